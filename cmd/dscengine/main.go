package main

import (
	"DSCEngine/internal/config"
	"DSCEngine/internal/observability"
	"DSCEngine/internal/persistence"
	"DSCEngine/migrations"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dscengine",
		Short:         "Over-collateralized DSC stablecoin engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newVersionCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with its gRPC, HTTP and NATS surfaces",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := observability.NewConfiguredLogger("dscengine", cfg.LogLevel, cfg.LogFormat)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := serve(ctx, cfg, logger); err != nil {
				logger.Error().Err(err).Msg("engine stopped with error")
				return err
			}
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return migrate(cmd.Context(), func(ctx context.Context, m *persistence.Migrator) error {
					return m.Up(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back the most recent migrations (default 1)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil {
						return fmt.Errorf("steps: %w", err)
					}
					steps = n
				}
				return migrate(cmd.Context(), func(ctx context.Context, m *persistence.Migrator) error {
					return m.Down(ctx, steps)
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return migrate(cmd.Context(), func(ctx context.Context, m *persistence.Migrator) error {
					statuses, err := m.Status(ctx)
					if err != nil {
						return err
					}
					out := cmd.OutOrStdout()
					for _, st := range statuses {
						if st.Applied {
							fmt.Fprintf(out, "%s\tapplied %s\n", st.ID, st.AppliedAt.Format(time.RFC3339))
						} else {
							fmt.Fprintf(out, "%s\tpending\n", st.ID)
						}
					}
					return nil
				})
			},
		},
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func migrate(ctx context.Context, run func(context.Context, *persistence.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := observability.NewConfiguredLogger("migrate", cfg.LogLevel, cfg.LogFormat)

	db, err := openPostgres(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := run(ctx, persistence.NewMigrator(db, migrations.FS, logger)); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info().Msg("migrations done")
	return nil
}
