package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sudo-init-do/jobhub/internal/jobs"
	"github.com/sudo-init-do/jobhub/internal/store"
)

const jobColumns = `id, title, description, service_type, location, status, posted_by, accepted_bid_id, created_at, updated_at`

func scanJob(sc scanner) (jobs.Job, error) {
	var (
		j                jobs.Job
		status           string
		accepted         sql.NullString
		created, updated int64
	)
	if err := sc.Scan(&j.ID, &j.Title, &j.Description, &j.ServiceType, &j.Location, &status, &j.PostedBy, &accepted, &created, &updated); err != nil {
		return jobs.Job{}, err
	}
	j.Status = jobs.Status(status)
	if accepted.Valid {
		v := accepted.String
		j.AcceptedBidID = &v
	}
	j.CreatedAt = fromTS(created)
	j.UpdatedAt = fromTS(updated)
	return j, nil
}

func (s *Store) InsertJob(ctx context.Context, j jobs.Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Title, j.Description, j.ServiceType, j.Location, string(j.Status), j.PostedBy,
		nullString(j.AcceptedBidID), ts(j.CreatedAt), ts(j.UpdatedAt),
	)
	if isDuplicate(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("sqlite: insert job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (jobs.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return jobs.Job{}, notFound(err, "get job")
	}
	return j, nil
}

func (s *Store) ListJobs(ctx context.Context, f jobs.Filter, p store.Page) ([]jobs.Job, error) {
	var w where
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.ServiceType != "" {
		w.add("service_type = ?", f.ServiceType)
	}
	if f.PostedBy != "" {
		w.add("posted_by = ?", f.PostedBy)
	}
	w.after(p.After)

	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs`+w.String()+pageOrder, append(w.args, p.Limit)...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list jobs: %w", err)
	}
	defer rows.Close()

	var out []jobs.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) CompareAndSwapJobStatus(ctx context.Context, id string, from, to jobs.Status, acceptedBidID *string, now time.Time) (bool, error) {
	if acceptedBidID != nil {
		res, err := s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, accepted_bid_id = ?, updated_at = ?
			 WHERE id = ? AND status = ? AND accepted_bid_id IS NULL`,
			string(to), *acceptedBidID, ts(now), id, string(from),
		)
		return affected(res, err, "decide job")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), ts(now), id, string(from),
	)
	return affected(res, err, "transition job")
}

func (s *Store) ClearAcceptedBid(ctx context.Context, id, bidID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'open', accepted_bid_id = NULL, updated_at = ?
		 WHERE id = ? AND status = 'in_progress' AND accepted_bid_id = ?`,
		ts(now), id, bidID,
	)
	return affected(res, err, "clear accepted bid")
}
