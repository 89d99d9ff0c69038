// Package listener provides the Postgres LISTEN/NOTIFY trigger adapter for
// the notification pipeline. It holds a dedicated pgx connection (not from
// the pool) listening on the `event_created` channel.
//
// When an event is published, the Postgres trigger fires pg_notify and this
// consumer receives the signal and spawns an independent pipeline run.
// The signal is at-least-once: duplicates are allowed to run redundantly,
// and the delivery-record uniqueness constraint keeps the outcome
// at-most-once per (event, user) pair.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gatherly/gatherly-notify/internal/notify"
)

const (
	channel          = "event_created"
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
)

// eventCreated is the JSON payload from pg_notify('event_created', ...).
type eventCreated struct {
	ID          string    `json:"id"`
	Lat         *float64  `json:"lat"`
	Lon         *float64  `json:"lon"`
	Category    string    `json:"category"`
	ScheduledAt time.Time `json:"scheduled_at"`
	CreatorID   string    `json:"creator_id"`
}

// Start opens a dedicated connection and listens on the event_created
// channel. It reconnects automatically on connection loss. Blocks until ctx
// is cancelled. Intended to be called with `go`.
func Start(ctx context.Context, dbURL string, runner *notify.Runner, logger *slog.Logger) {
	backoff := reconnectBackoff

	for {
		err := listenLoop(ctx, dbURL, runner, logger)
		if ctx.Err() != nil {
			logger.Info("Event listener stopped (context cancelled)")
			return
		}

		logger.Error("Event listener disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled.
func listenLoop(ctx context.Context, dbURL string, runner *notify.Runner, logger *slog.Logger) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	_, err = conn.Exec(ctx, "LISTEN "+channel)
	if err != nil {
		return fmt.Errorf("LISTEN %s: %w", channel, err)
	}
	logger.Info("Event listener connected", "channel", channel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		event, err := decodeEvent(notification.Payload)
		if err != nil {
			logger.Warn("Failed to parse event signal",
				"payload", notification.Payload, "error", err)
			continue
		}

		logger.Info("Event signal received",
			"event_id", event.ID, "category", event.Category)

		// Process asynchronously so the listener never blocks on a run.
		go handleEvent(ctx, runner, event, logger)
	}
}

func decodeEvent(payload string) (notify.Event, error) {
	var raw eventCreated
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return notify.Event{}, err
	}
	if raw.ID == "" {
		return notify.Event{}, fmt.Errorf("event signal missing id")
	}
	return notify.Event{
		ID:          raw.ID,
		Latitude:    raw.Lat,
		Longitude:   raw.Lon,
		Category:    raw.Category,
		ScheduledAt: raw.ScheduledAt,
		CreatorID:   raw.CreatorID,
	}, nil
}

// handleEvent runs one pipeline instance. Nothing may propagate out of a
// run into the trigger source, so panics stop here.
func handleEvent(ctx context.Context, runner *notify.Runner, event notify.Event, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Pipeline run panicked", "event_id", event.ID, "panic", r)
		}
	}()
	runner.Process(ctx, event)
}
