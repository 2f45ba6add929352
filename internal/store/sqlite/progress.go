package sqlite

import (
	"context"
	"fmt"

	"github.com/sudo-init-do/jobhub/internal/progress"
	"github.com/sudo-init-do/jobhub/internal/store"
)

const updateColumns = `id, job_id, bid_id, author_id, status, progress_percent, title, body, internal, created_at`

func (s *Store) InsertUpdate(ctx context.Context, u progress.Update) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO progress_updates (`+updateColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.JobID, u.BidID, u.AuthorID, u.Status, u.ProgressPercent, u.Title, u.Body, u.Internal, ts(u.CreatedAt),
	)
	if isDuplicate(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("sqlite: insert progress update: %w", err)
	}
	return nil
}

func (s *Store) ListUpdates(ctx context.Context, q progress.Query, p store.Page) ([]progress.Update, error) {
	var w where
	if q.JobID != "" {
		w.add("job_id = ?", q.JobID)
	}
	if q.BidID != "" {
		w.add("bid_id = ?", q.BidID)
	}
	if !q.IncludeInternal {
		w.add("internal = 0")
	}
	w.after(p.After)

	rows, err := s.db.QueryContext(ctx, `SELECT `+updateColumns+` FROM progress_updates`+w.String()+pageOrder, append(w.args, p.Limit)...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list progress updates: %w", err)
	}
	defer rows.Close()

	var out []progress.Update
	for rows.Next() {
		var (
			u       progress.Update
			created int64
		)
		if err := rows.Scan(&u.ID, &u.JobID, &u.BidID, &u.AuthorID, &u.Status, &u.ProgressPercent, &u.Title, &u.Body, &u.Internal, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan progress update: %w", err)
		}
		u.CreatedAt = fromTS(created)
		out = append(out, u)
	}
	return out, rows.Err()
}
