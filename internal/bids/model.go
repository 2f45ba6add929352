package bids

import (
	"context"
	"time"

	"github.com/sudo-init-do/jobhub/internal/money"
	"github.com/sudo-init-do/jobhub/internal/store"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusAccepted || s == StatusRejected
}

// Bid is a provider's offer against a job. Amount is in minor units.
type Bid struct {
	ID          string       `json:"id"`
	JobID       string       `json:"job_id"`
	BidderID    string       `json:"bidder_id"`
	Amount      money.Amount `json:"amount"`
	Timeline    string       `json:"timeline"`
	Description string       `json:"description"`
	Status      Status       `json:"status"`
	Version     int          `json:"version"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (b Bid) Cursor() store.Cursor { return store.Cursor{CreatedAt: b.CreatedAt, ID: b.ID} }

// Revision is one version of a bid's terms. Every version a bid ever held is kept.
type Revision struct {
	BidID       string       `json:"bid_id"`
	Version     int          `json:"version"`
	Amount      money.Amount `json:"amount"`
	Timeline    string       `json:"timeline"`
	Description string       `json:"description"`
	CreatedAt   time.Time    `json:"created_at"`
}

func revisionOf(b Bid) Revision {
	return Revision{
		BidID:       b.ID,
		Version:     b.Version,
		Amount:      b.Amount,
		Timeline:    b.Timeline,
		Description: b.Description,
		CreatedAt:   b.UpdatedAt,
	}
}

type Filter struct {
	JobID    string
	BidderID string
	Status   Status
}

type Store interface {
	// InsertBid fails with store.ErrDuplicate when the bidder already bid on the job.
	InsertBid(ctx context.Context, b Bid) error
	GetBid(ctx context.Context, id string) (Bid, error)
	FindBid(ctx context.Context, jobID, bidderID string) (Bid, error)
	// ListBids returns a page ordered by submission time descending.
	ListBids(ctx context.Context, f Filter, p store.Page) ([]Bid, error)
	CompareAndSwapBidStatus(ctx context.Context, id string, from, to Status, now time.Time) (bool, error)
	// UpdateBidTerms writes b's amount, timeline, description and version while the stored bid
	// is pending at expectedVersion.
	UpdateBidTerms(ctx context.Context, b Bid, expectedVersion int) (bool, error)
	InsertRevision(ctx context.Context, r Revision) error
	ListRevisions(ctx context.Context, bidID string) ([]Revision, error)
}
