package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/antoniostano/parley/internal/app"
	"github.com/antoniostano/parley/internal/config"
	"github.com/antoniostano/parley/internal/logging"
)

var (
	profilePath string
	storeURL    string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Spoken conversations with an AI assistant",
	Long: `parley runs voice conversations: it listens until the speaker pauses,
transcribes the utterance, asks a language model for a reply and speaks it
back. Conversations and their audio are kept in a local history.

Commands:
  serve    - HTTP and websocket API
  talk     - conversation on the local microphone and speaker
  history  - list, show and delete stored conversations
  usage    - daily word budget
  replay   - drive synthetic turns against a running server`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profilePath, "profile", "", "TOML conversation profile (default: $PARLEY_PROFILE_FILE)")
	rootCmd.PersistentFlags().StringVar(&storeURL, "store", "", "history store URL (default: $PARLEY_STORE_URL)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (default: $LOG_LEVEL)")
}

// loadConfig reads the environment and applies the persistent flags on top.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("config: %w", err)
	}
	if profilePath != "" {
		cfg.ProfilePath = profilePath
		if cfg.Conversation, err = config.LoadProfile(profilePath); err != nil {
			return config.Config{}, err
		}
	}
	if storeURL != "" {
		cfg.StoreURL = storeURL
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

// buildRuntime loads configuration and wires the service. Callers must run
// the returned Cleanup.
func buildRuntime(ctx context.Context) (*app.BuildResult, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	rt, err := app.Build(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return rt, nil
}
