package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/sudo-init-do/jobhub/internal/bids"
	"github.com/sudo-init-do/jobhub/internal/money"
	"github.com/sudo-init-do/jobhub/internal/store"
)

const bidColumns = `id, job_id, bidder_id, amount, timeline, description, status, version, created_at, updated_at`

func scanBid(sc scanner) (bids.Bid, error) {
	var (
		b                bids.Bid
		amount           int64
		status           string
		created, updated int64
	)
	if err := sc.Scan(&b.ID, &b.JobID, &b.BidderID, &amount, &b.Timeline, &b.Description, &status, &b.Version, &created, &updated); err != nil {
		return bids.Bid{}, err
	}
	b.Amount = money.Amount(amount)
	b.Status = bids.Status(status)
	b.CreatedAt = fromTS(created)
	b.UpdatedAt = fromTS(updated)
	return b, nil
}

func (s *Store) InsertBid(ctx context.Context, b bids.Bid) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bids (`+bidColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.JobID, b.BidderID, int64(b.Amount), b.Timeline, b.Description, string(b.Status),
		b.Version, ts(b.CreatedAt), ts(b.UpdatedAt),
	)
	if isDuplicate(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("sqlite: insert bid: %w", err)
	}
	return nil
}

func (s *Store) GetBid(ctx context.Context, id string) (bids.Bid, error) {
	b, err := scanBid(s.db.QueryRowContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = ?`, id))
	if err != nil {
		return bids.Bid{}, notFound(err, "get bid")
	}
	return b, nil
}

func (s *Store) FindBid(ctx context.Context, jobID, bidderID string) (bids.Bid, error) {
	b, err := scanBid(s.db.QueryRowContext(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE job_id = ? AND bidder_id = ?`, jobID, bidderID))
	if err != nil {
		return bids.Bid{}, notFound(err, "find bid")
	}
	return b, nil
}

func (s *Store) ListBids(ctx context.Context, f bids.Filter, p store.Page) ([]bids.Bid, error) {
	var w where
	if f.JobID != "" {
		w.add("job_id = ?", f.JobID)
	}
	if f.BidderID != "" {
		w.add("bidder_id = ?", f.BidderID)
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	w.after(p.After)

	rows, err := s.db.QueryContext(ctx, `SELECT `+bidColumns+` FROM bids`+w.String()+pageOrder, append(w.args, p.Limit)...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list bids: %w", err)
	}
	defer rows.Close()

	var out []bids.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan bid: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CompareAndSwapBidStatus reports false when a second bid on the same job would become accepted.
func (s *Store) CompareAndSwapBidStatus(ctx context.Context, id string, from, to bids.Status, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bids SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), ts(now), id, string(from),
	)
	if isDuplicate(err) {
		return false, nil
	}
	return affected(res, err, "transition bid")
}

func (s *Store) UpdateBidTerms(ctx context.Context, b bids.Bid, expectedVersion int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bids SET amount = ?, timeline = ?, description = ?, version = ?, updated_at = ?
		 WHERE id = ? AND status = 'pending' AND version = ?`,
		int64(b.Amount), b.Timeline, b.Description, b.Version, ts(b.UpdatedAt), b.ID, expectedVersion,
	)
	return affected(res, err, "update bid terms")
}

func (s *Store) InsertRevision(ctx context.Context, r bids.Revision) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bid_revisions (bid_id, version, amount, timeline, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.BidID, r.Version, int64(r.Amount), r.Timeline, r.Description, ts(r.CreatedAt),
	)
	if isDuplicate(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("sqlite: insert revision: %w", err)
	}
	return nil
}

func (s *Store) ListRevisions(ctx context.Context, bidID string) ([]bids.Revision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT bid_id, version, amount, timeline, description, created_at
		 FROM bid_revisions WHERE bid_id = ? ORDER BY version ASC`, bidID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list revisions: %w", err)
	}
	defer rows.Close()

	var out []bids.Revision
	for rows.Next() {
		var (
			r       bids.Revision
			amount  int64
			created int64
		)
		if err := rows.Scan(&r.BidID, &r.Version, &amount, &r.Timeline, &r.Description, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan revision: %w", err)
		}
		r.Amount = money.Amount(amount)
		r.CreatedAt = fromTS(created)
		out = append(out, r)
	}
	return out, rows.Err()
}
