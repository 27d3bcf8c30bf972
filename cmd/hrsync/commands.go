package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openidx/hrsync/internal/operation"
)

func newFetchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Download new extracts from the export server into the inbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd.Context(), opts, "fetch", func(ctx context.Context, a *app) (any, error) {
				files, err := a.service.Fetch(ctx)
				return map[string]any{"files": files}, err
			})
		},
	}
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Turn the inbox extracts into pending operations and archive them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd.Context(), opts, "ingest", func(ctx context.Context, a *app) (any, error) {
				return a.service.Ingest(ctx)
			})
		},
	}
}

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Apply the pending operations due today",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd.Context(), opts, "reconcile", func(ctx context.Context, a *app) (any, error) {
				today := a.service.Today()
				if date != "" {
					d, err := time.Parse(time.DateOnly, date)
					if err != nil {
						return nil, fmt.Errorf("invalid --date: %w", err)
					}
					today = operation.Day(d)
				}
				return a.service.Reconcile(ctx, today)
			})
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Reconcile as of this date (YYYY-MM-DD, default today)")
	return cmd
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Fetch, ingest and reconcile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd.Context(), opts, "run", func(ctx context.Context, a *app) (any, error) {
				return nil, a.service.Run(ctx)
			})
		},
	}
}

type migrator interface {
	Migrate(ctx context.Context) error
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the pending operation table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd.Context(), opts, "migrate", func(ctx context.Context, a *app) (any, error) {
				m, ok := a.repo.(migrator)
				if !ok {
					a.log.Info("nothing to migrate", zap.String("store", a.cfg.Store.Backend))
					return nil, nil
				}
				return nil, m.Migrate(ctx)
			})
		},
	}
}
