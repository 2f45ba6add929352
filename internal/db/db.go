// Package db connects to Postgres and brings its schema up to what the stores expect.
package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DSN builds a connection string from the DB_* settings.
func DSN(user, password, host, port, name, sslMode string) string {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, password, host, port, name)
	if sslMode != "" {
		dsn += "?sslmode=" + sslMode
	}
	return dsn
}

// Connect opens a pool and pings it.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates missing tables and columns. It is safe to run on every start.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	steps := []struct {
		name string
		fn   func(context.Context, *pgxpool.Pool, *slog.Logger) error
	}{
		{"jobs", ensureJobsTable},
		{"bids", ensureBidsTable},
		{"bid_revisions", ensureBidRevisionsTable},
		{"payments", ensurePaymentsTable},
		{"idempotency_keys", ensureIdempotencyTable},
		{"progress_updates", ensureProgressTable},
		{"notifications", ensureNotificationsTable},
	}
	for _, s := range steps {
		if err := s.fn(ctx, pool, logger); err != nil {
			return fmt.Errorf("ensure %s: %w", s.name, err)
		}
	}
	logger.Info("postgres schema ensured")
	return nil
}

func tableExists(ctx context.Context, pool *pgxpool.Pool, table string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)`, table).Scan(&exists)
	return exists, err
}

func columnExists(ctx context.Context, pool *pgxpool.Pool, table, column string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = 'public' AND table_name = $1 AND column_name = $2
		)`, table, column).Scan(&exists)
	return exists, err
}

func ensureJobsTable(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	exists, err := tableExists(ctx, pool, "jobs")
	if err != nil || exists {
		return err
	}
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			service_type TEXT NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL CHECK (status IN ('open', 'in_progress', 'completed', 'cancelled')),
			posted_by TEXT NOT NULL,
			accepted_bid_id TEXT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at DESC, id DESC);
		CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at DESC, id DESC);
		CREATE INDEX IF NOT EXISTS idx_jobs_poster ON jobs(posted_by, created_at DESC);
	`)
	if err == nil {
		logger.Info("jobs table created")
	}
	return err
}

func ensureBidsTable(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	exists, err := tableExists(ctx, pool, "bids")
	if err != nil {
		return err
	}
	if !exists {
		_, err = pool.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS bids (
				id TEXT PRIMARY KEY,
				job_id TEXT NOT NULL REFERENCES jobs(id),
				bidder_id TEXT NOT NULL,
				amount BIGINT NOT NULL CHECK (amount > 0),
				timeline TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL CHECK (status IN ('pending', 'accepted', 'rejected')),
				version INTEGER NOT NULL DEFAULT 1,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (job_id, bidder_id)
			);
			CREATE INDEX IF NOT EXISTS idx_bids_job ON bids(job_id, created_at DESC, id DESC);
			CREATE INDEX IF NOT EXISTS idx_bids_bidder ON bids(bidder_id, created_at DESC, id DESC);
		`)
		if err != nil {
			return err
		}
		logger.Info("bids table created")
	}

	// bids created before revisions were tracked have no version column
	hasVersion, err := columnExists(ctx, pool, "bids", "version")
	if err != nil {
		return err
	}
	if !hasVersion {
		if _, err := pool.Exec(ctx, `ALTER TABLE bids ADD COLUMN IF NOT EXISTS version INTEGER NOT NULL DEFAULT 1`); err != nil {
			return err
		}
		logger.Info("bids.version column ensured")
	}

	_, err = pool.Exec(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS idx_bids_one_accepted ON bids(job_id) WHERE status = 'accepted'`)
	return err
}

func ensureBidRevisionsTable(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	exists, err := tableExists(ctx, pool, "bid_revisions")
	if err != nil || exists {
		return err
	}
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS bid_revisions (
			bid_id TEXT NOT NULL REFERENCES bids(id) ON DELETE CASCADE,
			version INTEGER NOT NULL,
			amount BIGINT NOT NULL,
			timeline TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			PRIMARY KEY (bid_id, version)
		);
	`)
	if err == nil {
		logger.Info("bid_revisions table created")
	}
	return err
}

func ensurePaymentsTable(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	exists, err := tableExists(ctx, pool, "payments")
	if err != nil || exists {
		return err
	}
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL REFERENCES jobs(id),
			bid_id TEXT NOT NULL UNIQUE REFERENCES bids(id),
			poster_id TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			amount BIGINT NOT NULL CHECK (amount > 0),
			currency TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('created', 'held', 'released', 'refunded', 'disputed')),
			authorization_ref TEXT NOT NULL DEFAULT '',
			external_reference TEXT NOT NULL DEFAULT '',
			transfer_ref TEXT NOT NULL DEFAULT '',
			refund_ref TEXT NOT NULL DEFAULT '',
			dispute_ref TEXT NOT NULL DEFAULT '',
			released_amount BIGINT NOT NULL DEFAULT 0,
			refunded_amount BIGINT NOT NULL DEFAULT 0,
			fee_amount BIGINT NOT NULL DEFAULT 0,
			release_reason TEXT NOT NULL DEFAULT '',
			refund_reason TEXT NOT NULL DEFAULT '',
			dispute_reason TEXT NOT NULL DEFAULT '',
			dispute_evidence JSONB NOT NULL DEFAULT '[]',
			release_date TIMESTAMP WITH TIME ZONE NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_payments_created ON payments(created_at DESC, id DESC);
		CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status, created_at DESC, id DESC);
		CREATE INDEX IF NOT EXISTS idx_payments_job ON payments(job_id);
	`)
	if err == nil {
		logger.Info("payments table created")
	}
	return err
}

func ensureIdempotencyTable(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	exists, err := tableExists(ctx, pool, "idempotency_keys")
	if err != nil {
		return err
	}
	if !exists {
		_, err = pool.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS idempotency_keys (
				scope TEXT NOT NULL,
				operation TEXT NOT NULL,
				idem_key TEXT NOT NULL,
				state TEXT NOT NULL CHECK (state IN ('pending', 'completed', 'failed')),
				response BYTEA NULL,
				error_code TEXT NOT NULL DEFAULT '',
				error_message TEXT NOT NULL DEFAULT '',
				error_retryable BOOLEAN NOT NULL DEFAULT FALSE,
				error_local_mutation BOOLEAN NOT NULL DEFAULT FALSE,
				error_current BYTEA NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (scope, operation, idem_key)
			);
		`)
		if err != nil {
			return err
		}
		logger.Info("idempotency_keys table created")
		return nil
	}

	// keys recorded before failure detail was kept
	hasDetail, err := columnExists(ctx, pool, "idempotency_keys", "error_current")
	if err != nil {
		return err
	}
	if !hasDetail {
		if _, err := pool.Exec(ctx, `
			ALTER TABLE idempotency_keys ADD COLUMN IF NOT EXISTS error_retryable BOOLEAN NOT NULL DEFAULT FALSE;
			ALTER TABLE idempotency_keys ADD COLUMN IF NOT EXISTS error_local_mutation BOOLEAN NOT NULL DEFAULT FALSE;
			ALTER TABLE idempotency_keys ADD COLUMN IF NOT EXISTS error_current BYTEA NULL;
		`); err != nil {
			return err
		}
		logger.Info("idempotency_keys failure detail columns ensured")
	}
	return nil
}

func ensureProgressTable(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	exists, err := tableExists(ctx, pool, "progress_updates")
	if err != nil || exists {
		return err
	}
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS progress_updates (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL REFERENCES jobs(id),
			bid_id TEXT NOT NULL REFERENCES bids(id),
			author_id TEXT NOT NULL,
			status TEXT NOT NULL,
			progress_percent INTEGER NOT NULL CHECK (progress_percent BETWEEN 0 AND 100),
			title TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			internal BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_progress_job ON progress_updates(job_id, created_at DESC, id DESC);
		CREATE INDEX IF NOT EXISTS idx_progress_bid ON progress_updates(bid_id, created_at DESC, id DESC);
	`)
	if err == nil {
		logger.Info("progress_updates table created")
	}
	return err
}

// ensureNotificationsTable creates the in-app notifications table if it doesn't exist
func ensureNotificationsTable(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	exists, err := tableExists(ctx, pool, "notifications")
	if err != nil || exists {
		return err
	}
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			reference TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			read_at TIMESTAMP WITH TIME ZONE NULL
		);
		CREATE INDEX IF NOT EXISTS idx_notifications_user_created ON notifications(user_id, created_at DESC, id DESC);
		CREATE INDEX IF NOT EXISTS idx_notifications_user_unread ON notifications(user_id) WHERE read_at IS NULL;
	`)
	if err == nil {
		logger.Info("notifications table created")
	}
	return err
}
