// Package postgres implements the engine stores on Postgres through a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sudo-init-do/jobhub/internal/admin"
	"github.com/sudo-init-do/jobhub/internal/alerts"
	"github.com/sudo-init-do/jobhub/internal/bids"
	"github.com/sudo-init-do/jobhub/internal/escrow"
	"github.com/sudo-init-do/jobhub/internal/jobs"
	"github.com/sudo-init-do/jobhub/internal/progress"
	"github.com/sudo-init-do/jobhub/internal/store"
)

var (
	_ jobs.Store               = (*Store)(nil)
	_ bids.Store               = (*Store)(nil)
	_ escrow.Store             = (*Store)(nil)
	_ progress.Store           = (*Store)(nil)
	_ alerts.NotificationStore = (*Store)(nil)
	_ admin.Store              = (*Store)(nil)
)

// Store wraps a pool whose schema was prepared by db.EnsureSchema.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

const uniqueViolation = "23505"

func isDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func notFound(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

func affected(tag pgconn.CommandTag, err error, op string) (bool, error) {
	if err != nil {
		return false, fmt.Errorf("postgres: %s: %w", op, err)
	}
	return tag.RowsAffected() > 0, nil
}

func utc(t time.Time) time.Time { return t.UTC() }

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// where numbers its placeholders as predicates are added.
type where struct {
	clauses []string
	args    []any
}

func (w *where) next() string { return "$" + strconv.Itoa(len(w.args)) }

func (w *where) eq(column string, v any) {
	w.args = append(w.args, v)
	w.clauses = append(w.clauses, column+" = "+w.next())
}

func (w *where) raw(clause string) { w.clauses = append(w.clauses, clause) }

func (w *where) after(c *store.Cursor) {
	if c == nil {
		return
	}
	w.args = append(w.args, c.CreatedAt)
	at := w.next()
	w.args = append(w.args, c.ID)
	id := w.next()
	w.clauses = append(w.clauses, fmt.Sprintf("(created_at < %s OR (created_at = %s AND id < %s))", at, at, id))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// page appends the ordering and the limit placeholder.
func (w *where) page(limit int) string {
	w.args = append(w.args, limit)
	return w.String() + " ORDER BY created_at DESC, id DESC LIMIT " + w.next()
}
