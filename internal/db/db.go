// Package db provides a pgxpool-based connection pool with prepared statement
// registration and health checking.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatherly/gatherly-notify/internal/config"
)

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// registerPreparedStatements registers all statements the pipeline, callback
// API, and sweep use. Prepared statements eliminate parse overhead on the
// per-candidate quota reads, which dominate query volume.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Events
		"event_by_id": `
			SELECT id, latitude, longitude, category, scheduled_at, creator_id
			FROM events WHERE id = $1`,

		// Candidate search: bounding-box prefilter over pushable recipients.
		// Exact great-circle distance is applied by the caller.
		"recipients_in_box": `
			SELECT id, latitude, longitude, notifications_enabled,
			       preferred_categories, quiet_hours_start, quiet_hours_end,
			       timezone, push_address
			FROM recipients
			WHERE latitude IS NOT NULL AND longitude IS NOT NULL
			  AND push_address IS NOT NULL
			  AND latitude BETWEEN $1 AND $2
			  AND longitude BETWEEN $3 AND $4`,

		"recipient_by_id": `
			SELECT id, latitude, longitude, notifications_enabled,
			       preferred_categories, quiet_hours_start, quiet_hours_end,
			       timezone, coalesce(push_address, '')
			FROM recipients WHERE id = $1`,

		// Quota: trailing-window count over the delivery history
		"count_recent_deliveries": `
			SELECT count(*) FROM delivery_records
			WHERE user_id = $1 AND sent_at >= $2`,

		// Idempotency: pre-send check for an existing (event, user) record
		"delivery_record_exists": `
			SELECT EXISTS (
				SELECT 1 FROM delivery_records
				WHERE event_id = $1 AND user_id = $2)`,

		// History: single-row insert guarded by the uniqueness constraint
		"insert_delivery_record": `
			INSERT INTO delivery_records (event_id, user_id, sent_at, delivered, failure_reason)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (event_id, user_id) DO NOTHING`,

		// Gateway callbacks
		"mark_delivered": `
			UPDATE delivery_records SET delivered = true
			WHERE event_id = $1 AND user_id = $2`,
		"mark_opened": `
			UPDATE delivery_records SET opened = true
			WHERE event_id = $1 AND user_id = $2`,

		// Catch-up sweep: recent valid events with no delivery history at all
		"unprocessed_recent_events": `
			SELECT e.id FROM events e
			WHERE e.created_at > now() - make_interval(secs => $1)
			  AND e.created_at < now() - interval '5 minutes'
			  AND e.latitude IS NOT NULL AND e.longitude IS NOT NULL
			  AND e.category <> ''
			  AND NOT EXISTS (
				SELECT 1 FROM delivery_records d WHERE d.event_id = e.id
			  )
			ORDER BY e.created_at
			LIMIT $2`,
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
