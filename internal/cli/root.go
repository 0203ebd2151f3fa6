// Package cli implements the txingest command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dvloznov/txingest/internal/app"
	"github.com/dvloznov/txingest/internal/config"
	"github.com/dvloznov/txingest/internal/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	// Log overrides the console logger (for testing).
	Log *zerolog.Logger
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "txingest",
		Short:         "Ingest transaction files into the transaction store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level, overrides the configured one")

	cmd.AddCommand(NewIngestCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewSearchCommand(opts))
	cmd.AddCommand(NewResetCommand(opts))
	cmd.AddCommand(NewBackfillCommand(opts))

	return cmd
}

func (o *RootOptions) load() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}

	log := logger.New()
	if o.Log != nil {
		log = *o.Log
	}
	log, err = logger.WithLevel(log, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, log, nil
}

// openApp loads configuration and builds the service.
func (o *RootOptions) openApp(ctx context.Context) (*app.App, error) {
	cfg, log, err := o.load()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("initializing: %w", err)
	}
	return a, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
