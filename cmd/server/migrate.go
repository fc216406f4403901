package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/linkgate/internal/migrate"
)

func newMigrateCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|status]",
		Short:     "Apply or inspect database migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.Dev)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			action := "up"
			if len(args) == 1 {
				action = args[0]
			}
			return runMigrate(ctx, log, action, cfg.DatabaseDSN)
		},
	}
}

func runMigrate(ctx context.Context, log *zap.Logger, action, dsn string) error {
	switch action {
	case "up":
		if err := migrate.Up(ctx, dsn); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		log.Info("migrations applied")
		return nil
	case "status":
		return migrate.Status(ctx, dsn)
	default:
		return fmt.Errorf("unknown migrate action %q", action)
	}
}
