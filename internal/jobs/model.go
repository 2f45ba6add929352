package jobs

import (
	"context"
	"time"

	"github.com/sudo-init-do/jobhub/internal/store"
)

type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Job is a posted service request.
type Job struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	ServiceType   string    `json:"service_type"`
	Location      string    `json:"location,omitempty"`
	Status        Status    `json:"status"`
	PostedBy      string    `json:"posted_by"`
	AcceptedBidID *string   `json:"accepted_bid_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Decided reports whether a bid has been chosen for the job.
func (j Job) Decided() bool { return j.AcceptedBidID != nil }

// HasAccepted reports whether bidID is the job's accepted bid.
func (j Job) HasAccepted(bidID string) bool {
	return j.AcceptedBidID != nil && *j.AcceptedBidID == bidID
}

func (j Job) Cursor() store.Cursor { return store.Cursor{CreatedAt: j.CreatedAt, ID: j.ID} }

type Filter struct {
	Status      Status
	ServiceType string
	PostedBy    string
}

// Store persists jobs. Writes that change status are conditional on the stored state.
type Store interface {
	InsertJob(ctx context.Context, j Job) error
	GetJob(ctx context.Context, id string) (Job, error)
	// ListJobs returns a page ordered by creation time descending.
	ListJobs(ctx context.Context, f Filter, p store.Page) ([]Job, error)
	// CompareAndSwapJobStatus moves the job from -> to only while its status is from. A non-nil
	// acceptedBidID is written too, and then the row must not have an accepted bid yet.
	// It returns false when the precondition did not hold.
	CompareAndSwapJobStatus(ctx context.Context, id string, from, to Status, acceptedBidID *string, now time.Time) (bool, error)
	// ClearAcceptedBid moves an in_progress job back to open only while bidID is its accepted bid.
	ClearAcceptedBid(ctx context.Context, id, bidID string, now time.Time) (bool, error)
}
