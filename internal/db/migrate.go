package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema DDL. Idempotent: every statement is CREATE ... IF NOT EXISTS or
// CREATE OR REPLACE, so Migrate is safe to run on every startup.
//
// delivery_records carries the subsystem's single synchronization point:
// the (event_id, user_id) uniqueness constraint. Rows are append-only;
// only the delivered/opened flags are ever updated, by gateway callbacks.
const schema = `
CREATE TABLE IF NOT EXISTS events (
    id           TEXT PRIMARY KEY,
    latitude     DOUBLE PRECISION,
    longitude    DOUBLE PRECISION,
    category     TEXT NOT NULL DEFAULT '',
    scheduled_at TIMESTAMPTZ NOT NULL,
    creator_id   TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS recipients (
    id                    TEXT PRIMARY KEY,
    latitude              DOUBLE PRECISION,
    longitude             DOUBLE PRECISION,
    notifications_enabled BOOLEAN NOT NULL DEFAULT true,
    preferred_categories  TEXT[] NOT NULL DEFAULT '{}',
    quiet_hours_start     SMALLINT NOT NULL DEFAULT 22,
    quiet_hours_end       SMALLINT NOT NULL DEFAULT 8,
    timezone              TEXT NOT NULL DEFAULT 'UTC',
    push_address          TEXT,
    updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_recipients_location
    ON recipients (latitude, longitude)
    WHERE latitude IS NOT NULL AND push_address IS NOT NULL;

CREATE TABLE IF NOT EXISTS delivery_records (
    id             BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    event_id       TEXT NOT NULL,
    user_id        TEXT NOT NULL,
    sent_at        TIMESTAMPTZ NOT NULL,
    delivered      BOOLEAN NOT NULL,
    opened         BOOLEAN NOT NULL DEFAULT false,
    failure_reason TEXT,
    CONSTRAINT delivery_records_event_user_key UNIQUE (event_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_delivery_records_user_sent
    ON delivery_records (user_id, sent_at);
`

// Trigger DDL: publishing an event fires pg_notify on the event_created
// channel with the payload the listener consumes.
const trigger = `
CREATE OR REPLACE FUNCTION notify_event_created() RETURNS trigger AS $$
BEGIN
    PERFORM pg_notify('event_created', json_build_object(
        'id', NEW.id,
        'lat', NEW.latitude,
        'lon', NEW.longitude,
        'category', NEW.category,
        'scheduled_at', to_char(NEW.scheduled_at AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS"Z"'),
        'creator_id', NEW.creator_id
    )::text);
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS events_notify_created ON events;
CREATE TRIGGER events_notify_created
    AFTER INSERT ON events
    FOR EACH ROW EXECUTE FUNCTION notify_event_created();
`

// Migrate applies the schema and the event_created trigger.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := pool.Exec(ctx, trigger); err != nil {
		return fmt.Errorf("apply event trigger: %w", err)
	}
	return nil
}
