// Package progress keeps the append-only work log of an accepted bid. A "completed" entry is
// what moves the job to completed.
package progress

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sudo-init-do/jobhub/internal/alerts"
	"github.com/sudo-init-do/jobhub/internal/apperr"
	"github.com/sudo-init-do/jobhub/internal/bids"
	"github.com/sudo-init-do/jobhub/internal/jobs"
	"github.com/sudo-init-do/jobhub/internal/store"
)

type Jobs interface {
	GetJob(ctx context.Context, id string) (jobs.Job, error)
	TransitionStatus(ctx context.Context, id string, to jobs.Status, acceptedBidID *string) (jobs.Job, error)
}

type Bids interface {
	GetBid(ctx context.Context, id string) (bids.Bid, error)
}

type Option func(*Log)

func WithLogger(l *slog.Logger) Option {
	return func(lg *Log) { lg.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(lg *Log) { lg.now = now }
}

func WithNotifier(n alerts.Notifier) Option {
	return func(lg *Log) { lg.notifier = n }
}

type Log struct {
	store    Store
	jobs     Jobs
	bids     Bids
	notifier alerts.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewLog(s Store, j Jobs, b Bids, opts ...Option) *Log {
	lg := &Log{store: s, jobs: j, bids: b, notifier: alerts.Nop{}, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(lg)
	}
	return lg
}

func (lg *Log) clock() time.Time { return lg.now().UTC().Truncate(time.Microsecond) }

type PostParams struct {
	JobID           string
	BidID           string
	AuthorID        string
	Status          string
	ProgressPercent int
	Title           string
	Body            string
	Internal        bool
}

// Result is a posted update and the job as it stands after it.
type Result struct {
	Update Update   `json:"update"`
	Job    jobs.Job `json:"job"`
}

func (lg *Log) PostUpdate(ctx context.Context, p PostParams) (Result, error) {
	status := strings.ToLower(strings.TrimSpace(p.Status))
	title := strings.TrimSpace(p.Title)
	if status == "" || title == "" {
		return Result{}, apperr.Validation("status and title are required")
	}
	if p.ProgressPercent < 0 || p.ProgressPercent > 100 {
		return Result{}, apperr.Validation("progress_percent must be between 0 and 100")
	}

	job, err := lg.jobs.GetJob(ctx, p.JobID)
	if err != nil {
		return Result{}, err
	}
	b, err := lg.bids.GetBid(ctx, p.BidID)
	if err != nil {
		return Result{}, err
	}
	if b.JobID != job.ID {
		return Result{}, apperr.Validation("bid %s does not belong to job %s", b.ID, job.ID)
	}
	if p.AuthorID != b.BidderID && p.AuthorID != job.PostedBy {
		return Result{}, apperr.Validation("only the job poster or the accepted provider can post progress")
	}
	if !job.HasAccepted(b.ID) || b.Status != bids.StatusAccepted {
		return Result{}, apperr.InvalidTransition("progress can only be posted on the accepted bid", job)
	}
	if job.Status != jobs.StatusInProgress && job.Status != jobs.StatusCompleted {
		return Result{}, apperr.InvalidTransition(fmt.Sprintf("job is %s", job.Status), job)
	}

	u := Update{
		ID:              uuid.NewString(),
		JobID:           job.ID,
		BidID:           b.ID,
		AuthorID:        p.AuthorID,
		Status:          status,
		ProgressPercent: p.ProgressPercent,
		Title:           title,
		Body:            strings.TrimSpace(p.Body),
		Internal:        p.Internal,
		CreatedAt:       lg.clock(),
	}
	if err := lg.store.InsertUpdate(ctx, u); err != nil {
		return Result{}, apperr.Storage("post progress update", err)
	}
	lg.logger.Info("progress posted", "job_id", job.ID, "bid_id", b.ID, "status", status, "percent", u.ProgressPercent)

	recipients := []string{job.PostedBy}
	if p.AuthorID == job.PostedBy {
		recipients = []string{b.BidderID}
	}
	if !u.Internal {
		lg.notify(ctx, alerts.Event{
			Type:       alerts.EventProgressPosted,
			JobID:      job.ID,
			BidID:      b.ID,
			Recipients: recipients,
			Title:      u.Title,
			Message:    fmt.Sprintf("%s (%d%%)", u.Status, u.ProgressPercent),
			Data:       u,
		})
	}

	if status == StatusCompleted && job.Status == jobs.StatusInProgress {
		job, err = lg.jobs.TransitionStatus(ctx, job.ID, jobs.StatusCompleted, nil)
		if err != nil {
			return Result{Update: u}, err
		}
		lg.notify(ctx, alerts.Event{
			Type:       alerts.EventJobCompleted,
			JobID:      job.ID,
			BidID:      b.ID,
			Recipients: []string{job.PostedBy, b.BidderID},
			Title:      "Job completed",
			Message:    fmt.Sprintf("%q was marked completed.", job.Title),
			Data:       job,
		})
	}
	return Result{Update: u, Job: job}, nil
}

func (lg *Log) ListUpdates(ctx context.Context, q Query, pageSize int) iter.Seq2[Update, error] {
	return store.Iterate(ctx, pageSize, func(ctx context.Context, p store.Page) ([]Update, error) {
		items, _, err := lg.ListPage(ctx, q, p)
		return items, err
	}, Update.Cursor)
}

func (lg *Log) ListPage(ctx context.Context, q Query, p store.Page) ([]Update, *store.Cursor, error) {
	if q.JobID == "" && q.BidID == "" {
		return nil, nil, apperr.Validation("job or bid is required")
	}
	p = p.Normalize()
	items, err := lg.store.ListUpdates(ctx, q, p)
	if err != nil {
		return nil, nil, apperr.Storage("list progress updates", err)
	}
	var next *store.Cursor
	if len(items) == p.Limit {
		c := items[len(items)-1].Cursor()
		next = &c
	}
	return items, next, nil
}

func (lg *Log) notify(ctx context.Context, ev alerts.Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = lg.clock()
	}
	if err := lg.notifier.Notify(ctx, ev); err != nil {
		lg.logger.Warn("notification not delivered", "type", ev.Type, "error", err)
	}
}
