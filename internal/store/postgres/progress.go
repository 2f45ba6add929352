package postgres

import (
	"context"
	"fmt"

	"github.com/sudo-init-do/jobhub/internal/progress"
	"github.com/sudo-init-do/jobhub/internal/store"
)

const updateColumns = `id, job_id, bid_id, author_id, status, progress_percent, title, body, internal, created_at`

func (s *Store) InsertUpdate(ctx context.Context, u progress.Update) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO progress_updates (`+updateColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID, u.JobID, u.BidID, u.AuthorID, u.Status, u.ProgressPercent, u.Title, u.Body, u.Internal, u.CreatedAt,
	)
	if isDuplicate(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("postgres: insert progress update: %w", err)
	}
	return nil
}

func (s *Store) ListUpdates(ctx context.Context, q progress.Query, p store.Page) ([]progress.Update, error) {
	var w where
	if q.JobID != "" {
		w.eq("job_id", q.JobID)
	}
	if q.BidID != "" {
		w.eq("bid_id", q.BidID)
	}
	if !q.IncludeInternal {
		w.raw("NOT internal")
	}
	w.after(p.After)
	sql := `SELECT ` + updateColumns + ` FROM progress_updates` + w.page(p.Limit)

	rows, err := s.pool.Query(ctx, sql, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list progress updates: %w", err)
	}
	defer rows.Close()

	var out []progress.Update
	for rows.Next() {
		var u progress.Update
		if err := rows.Scan(&u.ID, &u.JobID, &u.BidID, &u.AuthorID, &u.Status, &u.ProgressPercent, &u.Title, &u.Body, &u.Internal, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan progress update: %w", err)
		}
		u.CreatedAt = utc(u.CreatedAt)
		out = append(out, u)
	}
	return out, rows.Err()
}
