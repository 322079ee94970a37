package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/becomeliminal/memory-agent/config"
	"github.com/becomeliminal/memory-agent/core"
)

var chatThread string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the agent in the terminal",
	Long: `Starts an interactive session. Each line is one turn. The thread's history
is restored from the checkpointer before every turn and saved after it, so
--thread resumes an earlier conversation when checkpoint_path is set.
Type /quit or send EOF to leave.`,
	Args: cobra.NoArgs,
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

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		thread := chatThread
		if thread == "" {
			thread = uuid.NewString()
		}
		return runChat(ctx, env, agentConfig(cmd), thread, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatThread, "thread", "", "thread id to resume (default: new thread)")
}

// runChat reads one user message per line and prints each reply. A failed
// turn is reported and the session continues.
func runChat(ctx context.Context, env *agentEnv, cfg *config.AgentConfig, threadID string, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "Thread %s as %s (%s). /quit to exit.\n", threadID, cfg.UserID(), cfg.Model())

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		reply, err := chatTurn(ctx, env, cfg, threadID, line)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, reply)
	}
}

func chatTurn(ctx context.Context, env *agentEnv, cfg *config.AgentConfig, threadID, line string) (string, error) {
	state, err := env.checkpointer.Load(ctx, threadID)
	if err != nil {
		return "", err
	}
	state.Append(core.NewUserMessage(line))

	res, runErr := env.engine.Run(ctx, state, cfg)
	if err := env.checkpointer.Save(ctx, threadID, state); err != nil && runErr == nil {
		runErr = fmt.Errorf("save thread: %w", err)
	}
	if runErr != nil {
		return "", runErr
	}
	if res.RecordsWritten > 0 {
		config.Debugf("[MEMORY] %d memories written this turn", res.RecordsWritten)
	}
	return res.Reply, nil
}
