package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/sudo-init-do/jobhub/internal/jobs"
	"github.com/sudo-init-do/jobhub/internal/store"
)

const jobColumns = `id, title, description, service_type, location, status, posted_by, accepted_bid_id, created_at, updated_at`

func scanJob(sc scanner) (jobs.Job, error) {
	var j jobs.Job
	err := sc.Scan(&j.ID, &j.Title, &j.Description, &j.ServiceType, &j.Location, &j.Status, &j.PostedBy, &j.AcceptedBidID, &j.CreatedAt, &j.UpdatedAt)
	j.CreatedAt, j.UpdatedAt = utc(j.CreatedAt), utc(j.UpdatedAt)
	return j, err
}

func (s *Store) InsertJob(ctx context.Context, j jobs.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		j.ID, j.Title, j.Description, j.ServiceType, j.Location, string(j.Status), j.PostedBy, j.AcceptedBidID, j.CreatedAt, j.UpdatedAt,
	)
	if isDuplicate(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("postgres: insert job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (jobs.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		return jobs.Job{}, notFound(err, "get job")
	}
	return j, nil
}

func (s *Store) ListJobs(ctx context.Context, f jobs.Filter, p store.Page) ([]jobs.Job, error) {
	var w where
	if f.Status != "" {
		w.eq("status", string(f.Status))
	}
	if f.ServiceType != "" {
		w.eq("service_type", f.ServiceType)
	}
	if f.PostedBy != "" {
		w.eq("posted_by", f.PostedBy)
	}
	w.after(p.After)
	q := `SELECT ` + jobColumns + ` FROM jobs` + w.page(p.Limit)

	rows, err := s.pool.Query(ctx, q, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list jobs: %w", err)
	}
	defer rows.Close()

	var out []jobs.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) CompareAndSwapJobStatus(ctx context.Context, id string, from, to jobs.Status, acceptedBidID *string, now time.Time) (bool, error) {
	if acceptedBidID != nil {
		tag, err := s.pool.Exec(ctx,
			`UPDATE jobs SET status = $1, accepted_bid_id = $2, updated_at = $3
			 WHERE id = $4 AND status = $5 AND accepted_bid_id IS NULL`,
			string(to), *acceptedBidID, now, id, string(from),
		)
		return affected(tag, err, "decide job")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), now, id, string(from),
	)
	return affected(tag, err, "transition job")
}

func (s *Store) ClearAcceptedBid(ctx context.Context, id, bidID string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'open', accepted_bid_id = NULL, updated_at = $1
		 WHERE id = $2 AND status = 'in_progress' AND accepted_bid_id = $3`,
		now, id, bidID,
	)
	return affected(tag, err, "clear accepted bid")
}
