// Package store provides the Postgres-backed implementations of the
// pipeline collaborators: recipient lookup, event lookup, and the
// append-only delivery history. All queries go through prepared statements
// registered by internal/db.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatherly/gatherly-notify/internal/geo"
	"github.com/gatherly/gatherly-notify/internal/notify"
)

// Store wraps the connection pool with the pipeline's data access.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store over the shared pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --------------------------------------------------------------------------
// notify.Recipients
// --------------------------------------------------------------------------

// ListPushableNear returns recipients with a location and push address
// inside the bounding box enclosing the search circle. The exact
// great-circle cut is the candidate finder's job.
func (s *Store) ListPushableNear(ctx context.Context, lat, lon, radiusKm float64) ([]notify.Recipient, error) {
	minLat, maxLat, minLon, maxLon := geo.BoundingBox(lat, lon, radiusKm)

	rows, err := s.pool.Query(ctx, "recipients_in_box", minLat, maxLat, minLon, maxLon)
	if err != nil {
		return nil, fmt.Errorf("query recipients in box: %w", err)
	}
	defer rows.Close()

	var recipients []notify.Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}

// Recipient returns one profile by user ID.
func (s *Store) Recipient(ctx context.Context, userID string) (notify.Recipient, error) {
	rows, err := s.pool.Query(ctx, "recipient_by_id", userID)
	if err != nil {
		return notify.Recipient{}, fmt.Errorf("query recipient %s: %w", userID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return notify.Recipient{}, fmt.Errorf("recipient %s: %w", userID, pgx.ErrNoRows)
	}
	r, err := scanRecipient(rows)
	if err != nil {
		return notify.Recipient{}, fmt.Errorf("scan recipient %s: %w", userID, err)
	}
	return r, rows.Err()
}

func scanRecipient(rows pgx.Rows) (notify.Recipient, error) {
	var r notify.Recipient
	err := rows.Scan(
		&r.ID, &r.Latitude, &r.Longitude, &r.NotificationsEnabled,
		&r.PreferredCategories, &r.QuietHoursStart, &r.QuietHoursEnd,
		&r.Timezone, &r.PushAddress,
	)
	return r, err
}

// --------------------------------------------------------------------------
// notify.Events
// --------------------------------------------------------------------------

// Event returns one event by ID.
func (s *Store) Event(ctx context.Context, id string) (notify.Event, error) {
	var e notify.Event
	err := s.pool.QueryRow(ctx, "event_by_id", id).Scan(
		&e.ID, &e.Latitude, &e.Longitude, &e.Category, &e.ScheduledAt, &e.CreatorID,
	)
	if err != nil {
		return notify.Event{}, fmt.Errorf("query event %s: %w", id, err)
	}
	return e, nil
}

// --------------------------------------------------------------------------
// notify.History
// --------------------------------------------------------------------------

// CountSince returns the user's delivery-record count with sent_at at or
// after the cutoff. The quota is derived from this query on demand; no
// counter state exists anywhere.
func (s *Store) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, "count_recent_deliveries", userID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count recent deliveries for %s: %w", userID, err)
	}
	return count, nil
}

// Exists reports whether a delivery record already exists for the pair. The
// dispatcher consults it before the gateway call so a replayed trigger is
// dropped without a resend.
func (s *Store) Exists(ctx context.Context, eventID, userID string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, "delivery_record_exists", eventID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check delivery record for event %s user %s: %w", eventID, userID, err)
	}
	return exists, nil
}

// Insert writes one delivery record. Returns false when the (event, user)
// pair already exists: ON CONFLICT DO NOTHING makes duplicate inserts from
// redundant runs a benign no-op rather than an error.
func (s *Store) Insert(ctx context.Context, rec notify.DeliveryRecord) (bool, error) {
	var reason *string
	if rec.FailureReason != "" {
		reason = &rec.FailureReason
	}
	tag, err := s.pool.Exec(ctx, "insert_delivery_record",
		rec.EventID, rec.UserID, rec.SentAt, rec.Delivered, reason)
	if err != nil {
		return false, fmt.Errorf("insert delivery record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// --------------------------------------------------------------------------
// Gateway callbacks
// --------------------------------------------------------------------------

// ErrRecordNotFound is returned by the callback marks when no delivery
// record exists for the (event, user) pair.
var ErrRecordNotFound = errors.New("delivery record not found")

// MarkDelivered flips the delivered flag after a gateway delivery callback.
func (s *Store) MarkDelivered(ctx context.Context, eventID, userID string) error {
	return s.mark(ctx, "mark_delivered", eventID, userID)
}

// MarkOpened flips the opened flag after a client open callback.
func (s *Store) MarkOpened(ctx context.Context, eventID, userID string) error {
	return s.mark(ctx, "mark_opened", eventID, userID)
}

func (s *Store) mark(ctx context.Context, stmt, eventID, userID string) error {
	tag, err := s.pool.Exec(ctx, stmt, eventID, userID)
	if err != nil {
		return fmt.Errorf("%s (%s, %s): %w", stmt, eventID, userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s (%s, %s): %w", stmt, eventID, userID, ErrRecordNotFound)
	}
	return nil
}

// --------------------------------------------------------------------------
// Catch-up sweep
// --------------------------------------------------------------------------

// UnprocessedRecentEvents returns IDs of valid events created within the
// lookback window (but older than the listener's grace period) that have no
// delivery history at all — the signature of a NOTIFY missed during
// listener downtime.
func (s *Store) UnprocessedRecentEvents(ctx context.Context, lookback time.Duration, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, "unprocessed_recent_events", lookback.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed events: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan event id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
