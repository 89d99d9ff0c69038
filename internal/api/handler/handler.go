// Package handler provides HTTP handlers for the callback and operator
// endpoints. This surface is internal plumbing: the notification pipeline
// itself is trigger-driven and has no request path.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gatherly/gatherly-notify/internal/api/respond"
	"github.com/gatherly/gatherly-notify/internal/db"
	"github.com/gatherly/gatherly-notify/internal/notify"
	"github.com/gatherly/gatherly-notify/internal/store"
)

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	pool  *db.Pool
	store *store.Store
	stats *notify.StatsRecorder
}

// New creates a Handler with shared dependencies.
func New(pool *db.Pool, st *store.Store, stats *notify.StatsRecorder) *Handler {
	return &Handler{pool: pool, store: st, stats: stats}
}

// Root serves service info at /.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"name":    "Gatherly Notify",
		"status":  "running",
		"surface": []string{"callbacks", "metrics", "health"},
	})
}

// HealthCheck returns basic health status.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies database connectivity.
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if err := h.pool.HealthCheck(r.Context()); err != nil {
		respond.WriteError(w, http.StatusServiceUnavailable, "DB_UNAVAILABLE", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
	})
}

// callbackRequest is the body of the delivered/opened gateway callbacks.
type callbackRequest struct {
	EventID string `json:"event_id"`
	UserID  string `json:"user_id"`
}

func decodeCallback(r *http.Request) (callbackRequest, string) {
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, "invalid JSON body"
	}
	if req.EventID == "" || req.UserID == "" {
		return req, "event_id and user_id are required"
	}
	return req, ""
}

// Delivered flips the delivered flag of an existing delivery record.
// Called by the push gateway's delivery receipt webhook.
func (h *Handler) Delivered(w http.ResponseWriter, r *http.Request) {
	h.mark(w, r, h.store.MarkDelivered)
}

// Opened flips the opened flag of an existing delivery record.
// Called by the client when the user taps the notification.
func (h *Handler) Opened(w http.ResponseWriter, r *http.Request) {
	h.mark(w, r, h.store.MarkOpened)
}

func (h *Handler) mark(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, eventID, userID string) error) {
	req, problem := decodeCallback(r)
	if problem != "" {
		respond.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", problem)
		return
	}

	if err := fn(r.Context(), req.EventID, req.UserID); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "no delivery record for pair")
			return
		}
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

// RecentRuns returns the in-memory stats of recent pipeline runs:
// candidates found, exclusions by reason, sent and failed counts.
func (h *Handler) RecentRuns(w http.ResponseWriter, r *http.Request) {
	runs := h.stats.Recent()
	out := make([]map[string]interface{}, 0, len(runs))
	for _, s := range runs {
		out = append(out, map[string]interface{}{
			"event_id":    s.EventID,
			"started_at":  s.StartedAt.Format(time.RFC3339),
			"duration_ms": s.Duration.Milliseconds(),
			"skipped":     s.Skipped,
			"skip_reason": s.SkipReason,
			"candidates":  s.Candidates,
			"excluded":    s.Excluded,
			"eligible":    s.Eligible,
			"sent":        s.Sent,
			"failed":      s.Failed,
			"duplicates":  s.Duplicates,
			"error":       s.Error,
		})
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"runs":  out,
		"count": len(out),
	})
}
