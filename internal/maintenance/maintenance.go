// Package maintenance runs the periodic catch-up sweep as a Go ticker.
// NOTIFY delivery is best-effort: signals emitted while the listener is
// disconnected are lost. The sweep finds recent events with no delivery
// history and re-triggers them; redundant re-triggers are harmless because
// the delivery-record uniqueness constraint makes runs idempotent.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/gatherly/gatherly-notify/internal/notify"
	"github.com/gatherly/gatherly-notify/internal/store"
)

const (
	sweepLookback = time.Hour
	sweepLimit    = 50
)

// Start launches the sweep ticker. Blocks until ctx is cancelled. Intended
// to be called with `go`. A non-positive interval disables the sweep.
func Start(ctx context.Context, st *store.Store, runner *notify.Runner, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		logger.Info("Catch-up sweep disabled")
		return
	}

	logger.Info("Catch-up sweep started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			Sweep(ctx, st, runner, logger)
		case <-ctx.Done():
			logger.Info("Catch-up sweep stopped")
			return
		}
	}
}

// Sweep runs one catch-up pass: every recent event without delivery history
// gets a fresh pipeline run. Also callable from the ops CLI.
func Sweep(ctx context.Context, st *store.Store, runner *notify.Runner, logger *slog.Logger) {
	ids, err := st.UnprocessedRecentEvents(ctx, sweepLookback, sweepLimit)
	if err != nil {
		logger.Warn("Sweep: query failed", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	logger.Info("Sweep: re-triggering unprocessed events", "count", len(ids))
	for _, id := range ids {
		stats, err := runner.ProcessByID(ctx, id)
		if err != nil {
			logger.Warn("Sweep: reprocess failed", "event_id", id, "error", err)
			continue
		}
		logger.Info("Sweep: reprocessed event", "summary", stats.Summary())
	}
}
