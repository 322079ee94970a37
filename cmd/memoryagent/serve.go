package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/memory-agent/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the agent over WebSocket",
	Args:  cobra.NoArgs,
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

		srv, err := server.New(server.Config{
			Addr:         settings.ListenAddr(),
			GRPCAddr:     settings.GRPCAddr(),
			Agent:        agentConfig(cmd),
			Engine:       env.engine,
			Checkpointer: env.checkpointer,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.Run(ctx)
	},
}
