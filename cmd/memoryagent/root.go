package main

import (
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/becomeliminal/memory-agent/config"
)

var (
	flagConfig       string
	flagUser         string
	flagModel        string
	flagSystemPrompt string
	flagLogLevel     string
)

var rootCmd = &cobra.Command{
	Use:           "memoryagent",
	Short:         "Chat agent that remembers what it learns about each user",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine.
		_ = godotenv.Load()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "settings file (or "+config.SettingsEnv+" env)")
	rootCmd.PersistentFlags().StringVar(&flagUser, "user", "", "user id (or USER_ID env)")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "", "provider/model-name (or MODEL env)")
	rootCmd.PersistentFlags().StringVar(&flagSystemPrompt, "system-prompt", "", "system prompt template (or SYSTEM_PROMPT env)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error (or LOG_LEVEL env)")

	rootCmd.AddCommand(chatCmd, serveCmd, searchCmd)
}

// loadSettings reads the settings file named by --config or the environment
// and applies the log level.
func loadSettings() (*config.Settings, error) {
	path := flagConfig
	if path == "" {
		path = os.Getenv(config.SettingsEnv)
	}
	settings, err := config.LoadSettings(path)
	if err != nil {
		return nil, err
	}

	levelName := flagLogLevel
	if levelName == "" {
		levelName = os.Getenv("LOG_LEVEL")
	}
	if levelName == "" {
		levelName = settings.LogLevel
	}
	level, err := config.ParseLogLevel(levelName)
	if err != nil {
		return nil, err
	}
	config.SetLogLevel(level)
	slog.SetLogLoggerLevel(level)
	if level > slog.LevelInfo {
		// The [TAG] progress lines are informational.
		log.SetOutput(io.Discard)
	}
	return settings, nil
}

// agentConfig builds the agent config from flags. Flags that were not set
// leave the field at its default so the environment can fill it.
func agentConfig(cmd *cobra.Command) *config.AgentConfig {
	var opts []config.Option
	if cmd.Flags().Changed("user") {
		opts = append(opts, config.WithUserID(flagUser))
	}
	if cmd.Flags().Changed("model") {
		opts = append(opts, config.WithModel(flagModel))
	}
	if cmd.Flags().Changed("system-prompt") {
		opts = append(opts, config.WithSystemPrompt(flagSystemPrompt))
	}
	return config.NewAgentConfig(opts...)
}
