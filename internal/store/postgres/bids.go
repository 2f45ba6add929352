package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/sudo-init-do/jobhub/internal/bids"
	"github.com/sudo-init-do/jobhub/internal/store"
)

const bidColumns = `id, job_id, bidder_id, amount, timeline, description, status, version, created_at, updated_at`

func scanBid(sc scanner) (bids.Bid, error) {
	var b bids.Bid
	err := sc.Scan(&b.ID, &b.JobID, &b.BidderID, &b.Amount, &b.Timeline, &b.Description, &b.Status, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	b.CreatedAt, b.UpdatedAt = utc(b.CreatedAt), utc(b.UpdatedAt)
	return b, err
}

func (s *Store) InsertBid(ctx context.Context, b bids.Bid) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bids (`+bidColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.JobID, b.BidderID, int64(b.Amount), b.Timeline, b.Description, string(b.Status), b.Version, b.CreatedAt, b.UpdatedAt,
	)
	if isDuplicate(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("postgres: insert bid: %w", err)
	}
	return nil
}

func (s *Store) GetBid(ctx context.Context, id string) (bids.Bid, error) {
	b, err := scanBid(s.pool.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id))
	if err != nil {
		return bids.Bid{}, notFound(err, "get bid")
	}
	return b, nil
}

func (s *Store) FindBid(ctx context.Context, jobID, bidderID string) (bids.Bid, error) {
	b, err := scanBid(s.pool.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE job_id = $1 AND bidder_id = $2`, jobID, bidderID))
	if err != nil {
		return bids.Bid{}, notFound(err, "find bid")
	}
	return b, nil
}

func (s *Store) ListBids(ctx context.Context, f bids.Filter, p store.Page) ([]bids.Bid, error) {
	var w where
	if f.JobID != "" {
		w.eq("job_id", f.JobID)
	}
	if f.BidderID != "" {
		w.eq("bidder_id", f.BidderID)
	}
	if f.Status != "" {
		w.eq("status", string(f.Status))
	}
	w.after(p.After)
	q := `SELECT ` + bidColumns + ` FROM bids` + w.page(p.Limit)

	rows, err := s.pool.Query(ctx, q, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids: %w", err)
	}
	defer rows.Close()

	var out []bids.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bid: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CompareAndSwapBidStatus reports false when a second bid on the same job would become accepted.
func (s *Store) CompareAndSwapBidStatus(ctx context.Context, id string, from, to bids.Status, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bids SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), now, id, string(from),
	)
	if isDuplicate(err) {
		return false, nil
	}
	return affected(tag, err, "transition bid")
}

func (s *Store) UpdateBidTerms(ctx context.Context, b bids.Bid, expectedVersion int) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bids SET amount = $1, timeline = $2, description = $3, version = $4, updated_at = $5
		 WHERE id = $6 AND status = 'pending' AND version = $7`,
		int64(b.Amount), b.Timeline, b.Description, b.Version, b.UpdatedAt, b.ID, expectedVersion,
	)
	return affected(tag, err, "update bid terms")
}

func (s *Store) InsertRevision(ctx context.Context, r bids.Revision) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bid_revisions (bid_id, version, amount, timeline, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.BidID, r.Version, int64(r.Amount), r.Timeline, r.Description, r.CreatedAt,
	)
	if isDuplicate(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("postgres: insert revision: %w", err)
	}
	return nil
}

func (s *Store) ListRevisions(ctx context.Context, bidID string) ([]bids.Revision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT bid_id, version, amount, timeline, description, created_at
		 FROM bid_revisions WHERE bid_id = $1 ORDER BY version ASC`, bidID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list revisions: %w", err)
	}
	defer rows.Close()

	var out []bids.Revision
	for rows.Next() {
		var r bids.Revision
		if err := rows.Scan(&r.BidID, &r.Version, &r.Amount, &r.Timeline, &r.Description, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan revision: %w", err)
		}
		r.CreatedAt = utc(r.CreatedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
