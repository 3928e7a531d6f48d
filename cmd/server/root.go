package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/prophet/market-engine/internal/config"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "prophet",
		Short: "Prophet claim market engine",
		Long: `Prophet turns factual claims into prediction markets.

Claims are validated, reviewed by an AI collaborator and, once reviewed,
traded on two independently priced sides: TRUE and FALSE.

Configuration is read from an optional TOML file, a .env file and
PROPHET_* environment variables, in that order of precedence.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("PROPHET_CONFIG"),
		"path to a TOML config file")

	serve := newServeCmd(opts)
	root.AddCommand(serve, newMigrateCmd(opts), newValidateCmd())
	// Running the bare binary starts the server.
	root.RunE = serve.RunE
	return root
}

// loadConfig loads and validates configuration and installs the JSON
// logger at the configured level.
func loadConfig(opts *rootOptions) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}
