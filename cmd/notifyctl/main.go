// Command notifyctl is the Gatherly Notify operations CLI.
//
// Production processing is trigger-driven; these commands exist for manual
// replay and inspection. Replays are safe: the delivery-record uniqueness
// constraint makes redundant runs no-ops.
//
// Usage:
//
//	notifyctl process --event evt-42
//	notifyctl sweep
//	notifyctl quota --user user-7
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/gatherly/gatherly-notify/internal/config"
	"github.com/gatherly/gatherly-notify/internal/db"
	"github.com/gatherly/gatherly-notify/internal/gateway"
	"github.com/gatherly/gatherly-notify/internal/maintenance"
	"github.com/gatherly/gatherly-notify/internal/notify"
	"github.com/gatherly/gatherly-notify/internal/store"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:   "notifyctl",
		Short: "Gatherly Notify operations CLI",
	}

	root.AddCommand(processCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(quotaCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// process command
// --------------------------------------------------------------------------

func processCmd() *cobra.Command {
	var eventID string
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run the notification pipeline for a single event",
		RunE: func(cmd *cobra.Command, args []string) error {
			if eventID == "" {
				return fmt.Errorf("--event is required")
			}
			return run(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				st := store.New(pool.Pool)
				runner := buildRunner(st, cfg)

				start := time.Now()
				stats, err := runner.ProcessByID(ctx, eventID)
				if err != nil {
					return err
				}
				logger.Info("Process finished",
					"duration", time.Since(start).Round(time.Millisecond),
					"summary", stats.Summary())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&eventID, "event", "", "Event ID to process")
	return cmd
}

// --------------------------------------------------------------------------
// sweep command
// --------------------------------------------------------------------------

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Re-trigger recent events that have no delivery history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				st := store.New(pool.Pool)
				maintenance.Sweep(ctx, st, buildRunner(st, cfg), logger)
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// quota command
// --------------------------------------------------------------------------

func quotaCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Show a user's notification count in the trailing quota window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			return run(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				st := store.New(pool.Pool)
				rec, err := st.Recipient(ctx, userID)
				if err != nil {
					return err
				}
				since := time.Now().Add(-cfg.Notify.QuotaWindow)
				count, err := st.CountSince(ctx, userID, since)
				if err != nil {
					return err
				}
				logger.Info("Quota window",
					"user_id", userID,
					"window", cfg.Notify.QuotaWindow,
					"count", count,
					"limit", cfg.Notify.DailyLimit,
					"enabled", rec.NotificationsEnabled,
					"quiet_hours", fmt.Sprintf("%02d-%02d %s", rec.QuietHoursStart, rec.QuietHoursEnd, rec.Timezone),
					"pushable", rec.PushAddress != "")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID to inspect")
	return cmd
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

func buildRunner(st *store.Store, cfg *config.Config) *notify.Runner {
	gw := gateway.New(cfg.GatewayURL, cfg.GatewayAPIKey, cfg.GatewayRPM, logger)
	return notify.NewRunner(notify.Deps{
		Recipients: st,
		Events:     st,
		History:    st,
		Gateway:    gw,
	}, cfg.Notify, nil, logger)
}

// run handles config loading, DB connection, and context cancellation.
func run(fn func(ctx context.Context, cfg *config.Config, pool *db.Pool) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := db.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	return fn(ctx, cfg, pool)
}
