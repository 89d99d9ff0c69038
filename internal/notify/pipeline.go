package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gatherly/gatherly-notify/internal/config"
)

// Deps bundles the collaborators a pipeline run needs. Concurrent runs share
// no mutable state beyond the delivery-record store behind History.
type Deps struct {
	Recipients Recipients
	Events     Events
	History    History
	Gateway    Gateway
}

// Runner executes pipeline runs. Safe for concurrent use: each run is
// independent and only touches shared state through Deps.
type Runner struct {
	deps   Deps
	cfg    config.NotifyConfig
	logger *slog.Logger
	stats  *StatsRecorder
}

// NewRunner creates a Runner. The recorder may be shared with the metrics
// surface; pass nil to disable run recording.
func NewRunner(deps Deps, cfg config.NotifyConfig, recorder *StatsRecorder, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{deps: deps, cfg: cfg, logger: logger, stats: recorder}
}

// Stats returns the shared run recorder, or nil when recording is disabled.
func (r *Runner) Stats() *StatsRecorder { return r.stats }

// Process runs the full pipeline for one event and returns the run outcome.
// It never returns an error: malformed input is a logged skip, and stage
// failures are captured in the stats so the trigger source is unaffected.
func (r *Runner) Process(ctx context.Context, event Event) RunStats {
	stats := newRunStats(event.ID)
	defer func() {
		stats.Duration = time.Since(stats.StartedAt)
		if r.stats != nil {
			r.stats.Record(stats)
		}
	}()

	if reason := event.SkipReason(); reason != "" {
		stats.Skipped = true
		stats.SkipReason = reason
		r.logger.Warn("Skipping malformed event", "event_id", event.ID, "reason", reason)
		return stats
	}

	// Candidate lookup and filtering share one stage budget. On timeout the
	// run is abandoned: nothing has been dispatched yet, and the catch-up
	// sweep will re-trigger the event if no history exists.
	stageCtx := ctx
	if r.cfg.FilterTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, r.cfg.FilterTimeout)
		defer cancel()
	}

	candidates, err := FindCandidates(stageCtx, r.deps.Recipients, event, r.cfg.RadiusKm, r.logger)
	if err != nil {
		stats.Error = err.Error()
		r.logger.Error("Candidate search failed", "event_id", event.ID, "error", err)
		return stats
	}
	stats.Candidates = len(candidates)
	if len(candidates) == 0 {
		r.logger.Info("No candidates in radius",
			"event_id", event.ID, "radius_km", r.cfg.RadiusKm)
		return stats
	}

	eligible := FilterEligible(stageCtx, r.deps.History, event, candidates, r.cfg, time.Now(), &stats, r.logger)
	stats.Eligible = len(eligible)
	if len(eligible) == 0 {
		r.logger.Info("All candidates filtered", "event_id", event.ID, "summary", stats.Summary())
		return stats
	}

	composed := make([]Composed, len(eligible))
	for i, c := range eligible {
		composed[i] = Compose(event, c)
	}

	// Dispatch runs on the parent context: batch sends carry their own
	// per-batch timeout and must not be cut short by the filter budget.
	for _, res := range Dispatch(ctx, r.deps.Gateway, r.deps.History, composed, r.cfg, r.logger) {
		switch {
		case res.Duplicate:
			stats.Duplicates++
		case res.Delivered:
			stats.Sent++
		default:
			stats.Failed++
		}
	}

	r.logger.Info("Pipeline run complete", "summary", stats.Summary())
	return stats
}

// ProcessByID loads the event and runs the pipeline. Used by the ops CLI and
// the catch-up sweep.
func (r *Runner) ProcessByID(ctx context.Context, eventID string) (RunStats, error) {
	event, err := r.deps.Events.Event(ctx, eventID)
	if err != nil {
		return RunStats{}, fmt.Errorf("load event %s: %w", eventID, err)
	}
	return r.Process(ctx, event), nil
}
