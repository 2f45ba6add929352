package progress

import (
	"context"
	"time"

	"github.com/sudo-init-do/jobhub/internal/store"
)

// Status labels with engine meaning. Other labels are recorded as-is.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Update is one append-only work status entry on an accepted bid.
type Update struct {
	ID              string    `json:"id"`
	JobID           string    `json:"job_id"`
	BidID           string    `json:"bid_id"`
	AuthorID        string    `json:"author_id"`
	Status          string    `json:"status"`
	ProgressPercent int       `json:"progress_percent"`
	Title           string    `json:"title"`
	Body            string    `json:"body"`
	Internal        bool      `json:"internal"`
	CreatedAt       time.Time `json:"created_at"`
}

func (u Update) Cursor() store.Cursor { return store.Cursor{CreatedAt: u.CreatedAt, ID: u.ID} }

// Query selects updates by job or by bid. Internal updates are only returned when IncludeInternal
// is set.
type Query struct {
	JobID           string
	BidID           string
	IncludeInternal bool
}

type Store interface {
	InsertUpdate(ctx context.Context, u Update) error
	// ListUpdates returns a page ordered by creation time descending.
	ListUpdates(ctx context.Context, q Query, p store.Page) ([]Update, error)
}
