// Package jobs owns job postings and their status lifecycle.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sudo-init-do/jobhub/internal/apperr"
	"github.com/sudo-init-do/jobhub/internal/store"
)

var transitions = map[Status][]Status{
	StatusOpen:       {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the job lifecycle.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Option func(*Registry)

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry is the only writer of job records.
type Registry struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewRegistry(s Store, opts ...Option) *Registry {
	r := &Registry{store: s, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) clock() time.Time { return r.now().UTC().Truncate(time.Microsecond) }

type CreateParams struct {
	Title       string
	Description string
	ServiceType string
	Location    string
	PostedBy    string
}

func (r *Registry) CreateJob(ctx context.Context, p CreateParams) (Job, error) {
	p.Title = strings.TrimSpace(p.Title)
	p.Description = strings.TrimSpace(p.Description)
	p.ServiceType = strings.TrimSpace(p.ServiceType)
	p.PostedBy = strings.TrimSpace(p.PostedBy)

	var missing []string
	if p.Title == "" {
		missing = append(missing, "title")
	}
	if p.Description == "" {
		missing = append(missing, "description")
	}
	if p.ServiceType == "" {
		missing = append(missing, "service_type")
	}
	if p.PostedBy == "" {
		missing = append(missing, "posted_by")
	}
	if len(missing) > 0 {
		return Job{}, apperr.Validation("missing required fields: %s", strings.Join(missing, ", "))
	}

	now := r.clock()
	j := Job{
		ID:          uuid.NewString(),
		Title:       p.Title,
		Description: p.Description,
		ServiceType: p.ServiceType,
		Location:    strings.TrimSpace(p.Location),
		Status:      StatusOpen,
		PostedBy:    p.PostedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.store.InsertJob(ctx, j); err != nil {
		return Job{}, apperr.Storage("create job", err)
	}
	r.logger.Info("job created", "job_id", j.ID, "poster_id", j.PostedBy, "service_type", j.ServiceType)
	return j, nil
}

func (r *Registry) GetJob(ctx context.Context, id string) (Job, error) {
	j, err := r.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return Job{}, apperr.NotFound("job", id)
	}
	if err != nil {
		return Job{}, apperr.Storage("get job", err)
	}
	return j, nil
}

// ListJobs returns every job matching f, newest first, fetched pageSize rows at a time.
func (r *Registry) ListJobs(ctx context.Context, f Filter, pageSize int) iter.Seq2[Job, error] {
	return store.Iterate(ctx, pageSize, func(ctx context.Context, p store.Page) ([]Job, error) {
		items, _, err := r.ListPage(ctx, f, p)
		return items, err
	}, Job.Cursor)
}

// ListPage returns one page and the cursor of the next one, nil when exhausted.
func (r *Registry) ListPage(ctx context.Context, f Filter, p store.Page) ([]Job, *store.Cursor, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, nil, apperr.Validation("unknown job status %q", f.Status)
	}
	p = p.Normalize()
	items, err := r.store.ListJobs(ctx, f, p)
	if err != nil {
		return nil, nil, apperr.Storage("list jobs", err)
	}
	var next *store.Cursor
	if len(items) == p.Limit {
		c := items[len(items)-1].Cursor()
		next = &c
	}
	return items, next, nil
}

// TransitionStatus moves a job along the lifecycle graph. acceptedBidID is required on, and only
// allowed on, open -> in_progress, where it is written only if the job has no accepted bid yet.
// Repeating a transition that already landed returns the job unchanged.
func (r *Registry) TransitionStatus(ctx context.Context, id string, to Status, acceptedBidID *string) (Job, error) {
	if !to.Valid() {
		return Job{}, apperr.Validation("unknown job status %q", to)
	}
	if to == StatusInProgress && (acceptedBidID == nil || *acceptedBidID == "") {
		return Job{}, apperr.Validation("accepted bid is required to start a job")
	}
	if to != StatusInProgress && acceptedBidID != nil {
		return Job{}, apperr.Validation("accepted bid can only be set when a job starts")
	}

	j, err := r.GetJob(ctx, id)
	if err != nil {
		return Job{}, err
	}
	if landed(j, to, acceptedBidID) {
		return j, nil
	}
	if !CanTransition(j.Status, to) {
		if acceptedBidID != nil && j.Decided() {
			return Job{}, apperr.Conflict(apperr.CodeAlreadyDecided, "job already has an accepted bid", j)
		}
		if j.Status.Terminal() {
			return Job{}, apperr.InvalidTransition(fmt.Sprintf("job is %s and can no longer change", j.Status), j)
		}
		return Job{}, apperr.InvalidTransition(fmt.Sprintf("job cannot move from %s to %s", j.Status, to), j)
	}

	now := r.clock()
	ok, err := r.store.CompareAndSwapJobStatus(ctx, id, j.Status, to, acceptedBidID, now)
	if err != nil {
		return Job{}, apperr.Storage("transition job", err)
	}
	if !ok {
		current, err := r.GetJob(ctx, id)
		if err != nil {
			return Job{}, err
		}
		if landed(current, to, acceptedBidID) {
			return current, nil
		}
		code := apperr.CodeConflict
		if acceptedBidID != nil && current.Decided() {
			code = apperr.CodeAlreadyDecided
		}
		return Job{}, apperr.Conflict(code, "job changed concurrently", current)
	}

	from := j.Status
	j.Status = to
	if acceptedBidID != nil {
		bid := *acceptedBidID
		j.AcceptedBidID = &bid
	}
	j.UpdatedAt = now
	r.logger.Info("job transitioned", "job_id", id, "from", from, "to", to)
	return j, nil
}

func landed(j Job, to Status, acceptedBidID *string) bool {
	if j.Status != to {
		return false
	}
	return acceptedBidID == nil || j.HasAccepted(*acceptedBidID)
}

func (r *Registry) CancelJob(ctx context.Context, id string) (Job, error) {
	return r.TransitionStatus(ctx, id, StatusCancelled, nil)
}

// RevertAcceptance undoes an open -> in_progress decision for bidID. It is the compensation
// step of a bid acceptance whose bid could not be marked accepted, and does nothing once the job
// has moved on.
func (r *Registry) RevertAcceptance(ctx context.Context, id, bidID string) error {
	ok, err := r.store.ClearAcceptedBid(ctx, id, bidID, r.clock())
	if err != nil {
		return apperr.Storage("revert acceptance", err)
	}
	if ok {
		r.logger.Warn("job acceptance reverted", "job_id", id, "bid_id", bidID)
	}
	return nil
}
