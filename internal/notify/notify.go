// Package notify implements the proximity notification pipeline for newly
// published events.
//
// Pipeline: find nearby candidates → eligibility filter (opt-in, category,
// quiet hours, quota) → compose → batched dispatch to the push gateway →
// record delivery history. The delivery_records (event_id, user_id)
// uniqueness constraint is the sole idempotency mechanism: duplicate trigger
// signals may re-run the whole pipeline and the history insert collapses the
// result to at most one record per pair.
package notify

import (
	"context"
	"time"
)

// --------------------------------------------------------------------------
// Exclusion reasons
// --------------------------------------------------------------------------

// Reasons a candidate is dropped by the eligibility filter. Used as keys in
// the per-run exclusion counters.
const (
	ReasonOptOut      = "opt_out"
	ReasonCategory    = "category_mismatch"
	ReasonQuietHours  = "quiet_hours"
	ReasonQuota       = "quota_exceeded"
	ReasonQuotaLookup = "quota_lookup_failed"
)

// Skip reasons for malformed events. A malformed event produces an empty
// candidate list and a logged skip, never an error.
const (
	SkipMissingCoordinates = "missing_coordinates"
	SkipMissingCategory    = "missing_category"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Event is the immutable input to a pipeline run, as published by the event
// collaborator. Coordinates are pointers because upstream permits events
// without a location; such events are skipped.
type Event struct {
	ID          string
	Latitude    *float64
	Longitude   *float64
	Category    string
	ScheduledAt time.Time
	CreatorID   string
}

// SkipReason returns a non-empty reason if the event cannot be processed.
func (e Event) SkipReason() string {
	if e.Latitude == nil || e.Longitude == nil {
		return SkipMissingCoordinates
	}
	if e.Category == "" {
		return SkipMissingCategory
	}
	return ""
}

// Recipient is a user profile as exposed by the profile collaborator.
// Quiet hours are local wall-clock hours in [0,23], interpreted as the
// circular half-open interval [start, end) in the recipient's timezone.
type Recipient struct {
	ID                   string
	Latitude             *float64
	Longitude            *float64
	NotificationsEnabled bool
	PreferredCategories  []string
	QuietHoursStart      int
	QuietHoursEnd        int
	Timezone             string
	PushAddress          string
}

// Candidate is a recipient within geographic radius of an event, before
// preference and quota filtering.
type Candidate struct {
	Recipient  Recipient
	DistanceKm float64
}

// DeliveryRecord is one append-only history row per send attempt. At most
// one record exists per (EventID, UserID).
type DeliveryRecord struct {
	EventID       string
	UserID        string
	SentAt        time.Time
	Delivered     bool
	Opened        bool
	FailureReason string
}

// Composed is a fully built notification for one (event, user) pair,
// ready for dispatch.
type Composed struct {
	EventID  string
	UserID   string
	Address  string
	Title    string
	Body     string
	DeepLink string
	Data     map[string]string
}

// PushMessage is one item of a gateway batch request.
type PushMessage struct {
	Address string            `json:"address"`
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Data    map[string]string `json:"data,omitempty"`
}

// PushResult is the gateway's per-item status for one batch item.
type PushResult struct {
	Address string `json:"address"`
	Status  string `json:"status"` // "ok" or "failed"
	Error   string `json:"error,omitempty"`
}

// StatusOK is the gateway's per-item success status.
const StatusOK = "ok"

// DispatchResult is the pipeline-side outcome for one composed notification.
type DispatchResult struct {
	EventID   string
	UserID    string
	Delivered bool
	Duplicate bool // history insert hit the uniqueness constraint
	Error     string
}

// --------------------------------------------------------------------------
// Collaborator interfaces
// --------------------------------------------------------------------------

// Recipients is the profile collaborator: recipients holding a location and
// a registered push address near a point. Implementations may over-return
// (e.g. bounding-box prefilter); the candidate finder applies the exact
// distance cut.
type Recipients interface {
	ListPushableNear(ctx context.Context, lat, lon, radiusKm float64) ([]Recipient, error)
}

// Events is the event collaborator lookup, used by the ops CLI and the
// catch-up sweep to reprocess an event by ID.
type Events interface {
	Event(ctx context.Context, id string) (Event, error)
}

// History is the delivery-record store: the source of truth for idempotency
// and quota. Insert reports false when the (event, user) row already exists;
// Exists lets the dispatcher skip the gateway entirely for pairs that were
// already attempted, so a replayed trigger causes no resend.
type History interface {
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
	Exists(ctx context.Context, eventID, userID string) (bool, error)
	Insert(ctx context.Context, rec DeliveryRecord) (bool, error)
}

// Gateway sends one bounded batch and returns per-item statuses.
type Gateway interface {
	SendBatch(ctx context.Context, msgs []PushMessage) ([]PushResult, error)
}
