// Package cli implements sensorctl, the operator command line for reading
// a sample store directly.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/loader"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/storage"
	"github.com/xtxerr/sensorlog/internal/storage/query"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	DBPath     string
	Driver     string
	JSON       bool
}

// NewRootCommand creates the root command for sensorctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sensorctl",
		Short: "Query a sensorlog sample store",
		Long: `Query a sensorlog sample store directly, without the HTTP API.

The store is opened read-only, so sensorctl is safe to run next to a
collecting sensorlogd.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Diagnostics go to stderr so JSON on stdout stays parseable.
			logging.InitWriter(cmd.ErrOrStderr(), slog.LevelWarn, false)
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "config.yaml", "config file path")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "sample store path (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "storage driver (overrides config)")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "print JSON even on a terminal")

	// Add subcommands
	cmd.AddCommand(NewLatestCommand(opts))
	cmd.AddCommand(NewSeriesCommand(opts))
	cmd.AddCommand(NewSummaryCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))

	return cmd
}

// session is an open store plus a query service over it.
type session struct {
	store storage.ReadCloser
	svc   *query.Service
}

func (s *session) Close() error {
	return s.store.Close()
}

// open loads configuration, applies flag overrides and opens the store
// read-only.
func (o *RootOptions) open() (*session, error) {
	cfg, err := loader.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}
	if o.DBPath != "" {
		cfg.Storage.Path = o.DBPath
	}
	if o.Driver != "" {
		cfg.Storage.Driver = o.Driver
	}

	store, err := storage.OpenReader(loader.ToStorageConfig(cfg))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open store", err)
	}

	return &session{
		store: store,
		svc:   query.New(store, loader.ToQueryConfig(cfg)),
	}, nil
}

// run opens a session, calls fn and closes the session.
func (o *RootOptions) run(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	s, err := o.open()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := fn(ctx, s); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return err
		}
		if errors.IsValidation(err) {
			return WrapExitError(ExitCommandError, "invalid request", err)
		}
		return WrapExitError(ExitFailure, fmt.Sprintf("%s failed", cmd.Name()), err)
	}
	return nil
}
