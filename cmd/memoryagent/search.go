package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/memory-agent/memory"
)

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "List a user's stored memories closest to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		env, err := openAgent(settings)
		if err != nil {
			return err
		}
		defer env.close()

		cfg := agentConfig(cmd)
		return runSearch(cmd.Context(), env.manager, cfg.UserID(), strings.Join(args, " "), searchLimit, cmd.OutOrStdout())
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "max results")
}

func runSearch(ctx context.Context, mgr *memory.Manager, userID, query string, limit int, out io.Writer) error {
	results, err := mgr.Search(ctx, memory.UserNamespace(userID), query, limit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintf(out, "No memories for %s.\n", userID)
		return nil
	}
	for _, r := range results {
		fmt.Fprintln(out, r.Format())
	}
	return nil
}
