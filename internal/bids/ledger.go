// Package bids owns bids against jobs and the exclusive acceptance of one bid per job.
//
// Acceptance is a saga of single-record conditional writes. The job record is the decision lock:
// whoever moves it from open to in_progress with its bid id wins, then marks its bid accepted and
// rejects the pending siblings. Sibling rejection is retried and Reconcile re-sweeps anything an
// interrupted acceptance left behind.
package bids

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/sudo-init-do/jobhub/internal/alerts"
	"github.com/sudo-init-do/jobhub/internal/apperr"
	"github.com/sudo-init-do/jobhub/internal/jobs"
	"github.com/sudo-init-do/jobhub/internal/money"
	"github.com/sudo-init-do/jobhub/internal/store"
)

// Jobs is the part of the job registry the ledger drives.
type Jobs interface {
	GetJob(ctx context.Context, id string) (jobs.Job, error)
	TransitionStatus(ctx context.Context, id string, to jobs.Status, acceptedBidID *string) (jobs.Job, error)
	RevertAcceptance(ctx context.Context, id, bidID string) error
	ListJobs(ctx context.Context, f jobs.Filter, pageSize int) iter.Seq2[jobs.Job, error]
}

type Option func(*Ledger)

func WithLogger(l *slog.Logger) Option {
	return func(led *Ledger) { led.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(led *Ledger) { led.now = now }
}

func WithNotifier(n alerts.Notifier) Option {
	return func(led *Ledger) { led.notifier = n }
}

// WithRetry bounds the retries of follow-up writes such as sibling rejection.
func WithRetry(attempts int, initial time.Duration) Option {
	return func(led *Ledger) {
		if attempts > 0 {
			led.attempts = attempts
		}
		if initial > 0 {
			led.retryInitial = initial
		}
	}
}

type Ledger struct {
	store    Store
	jobs     Jobs
	notifier alerts.Notifier
	logger   *slog.Logger
	now      func() time.Time

	attempts     int
	retryInitial time.Duration
}

func NewLedger(s Store, j Jobs, opts ...Option) *Ledger {
	l := &Ledger{
		store:        s,
		jobs:         j,
		notifier:     alerts.Nop{},
		logger:       slog.Default(),
		now:          time.Now,
		attempts:     4,
		retryInitial: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) clock() time.Time { return l.now().UTC().Truncate(time.Microsecond) }

type SubmitParams struct {
	JobID       string
	BidderID    string
	Amount      money.Amount
	Timeline    string
	Description string
}

func (l *Ledger) SubmitBid(ctx context.Context, p SubmitParams) (Bid, error) {
	p.JobID = strings.TrimSpace(p.JobID)
	p.BidderID = strings.TrimSpace(p.BidderID)
	if p.JobID == "" || p.BidderID == "" {
		return Bid{}, apperr.Validation("job and bidder are required")
	}
	if !p.Amount.Positive() {
		return Bid{}, apperr.Validation("amount must be positive")
	}

	job, err := l.jobs.GetJob(ctx, p.JobID)
	if err != nil {
		return Bid{}, err
	}
	if job.PostedBy == p.BidderID {
		return Bid{}, apperr.Validation("job poster cannot bid on their own job")
	}
	if job.Status != jobs.StatusOpen {
		return Bid{}, apperr.Conflict(apperr.CodeJobClosed, "job is not accepting bids", job)
	}

	now := l.clock()
	b := Bid{
		ID:          uuid.NewString(),
		JobID:       p.JobID,
		BidderID:    p.BidderID,
		Amount:      p.Amount,
		Timeline:    strings.TrimSpace(p.Timeline),
		Description: strings.TrimSpace(p.Description),
		Status:      StatusPending,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.store.InsertBid(ctx, b); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			existing, _ := l.store.FindBid(ctx, p.JobID, p.BidderID)
			return Bid{}, apperr.Conflict(apperr.CodeDuplicateBid, "bidder already has a bid on this job", existing)
		}
		return Bid{}, apperr.Storage("submit bid", err)
	}
	if err := l.store.InsertRevision(ctx, revisionOf(b)); err != nil {
		l.logger.Error("bid revision not recorded", "bid_id", b.ID, "version", b.Version, "error", err)
	}

	// the job may have been decided between the check above and the insert
	after, err := l.jobs.GetJob(ctx, p.JobID)
	if err == nil && after.Status != jobs.StatusOpen {
		if _, err := l.store.CompareAndSwapBidStatus(ctx, b.ID, StatusPending, StatusRejected, l.clock()); err != nil {
			l.logger.Warn("late bid left pending", "bid_id", b.ID, "job_id", b.JobID, "error", err)
		}
		return Bid{}, apperr.Conflict(apperr.CodeJobClosed, "job stopped accepting bids", after)
	}

	l.logger.Info("bid submitted", "bid_id", b.ID, "job_id", b.JobID, "bidder_id", b.BidderID, "amount", int64(b.Amount))
	l.notify(ctx, alerts.Event{
		Type:       alerts.EventBidSubmitted,
		JobID:      b.JobID,
		BidID:      b.ID,
		Recipients: []string{job.PostedBy},
		Amount:     b.Amount,
		Title:      "New bid on your job",
		Message:    fmt.Sprintf("A provider bid %s on %q.", b.Amount, job.Title),
	})
	return b, nil
}

func (l *Ledger) GetBid(ctx context.Context, id string) (Bid, error) {
	b, err := l.store.GetBid(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return Bid{}, apperr.NotFound("bid", id)
	}
	if err != nil {
		return Bid{}, apperr.Storage("get bid", err)
	}
	return b, nil
}

// FindBid returns bidderID's bid on jobID.
func (l *Ledger) FindBid(ctx context.Context, jobID, bidderID string) (Bid, error) {
	b, err := l.store.FindBid(ctx, jobID, bidderID)
	if errors.Is(err, store.ErrNotFound) {
		return Bid{}, apperr.NotFound("bid by "+bidderID+" on job", jobID)
	}
	if err != nil {
		return Bid{}, apperr.Storage("find bid", err)
	}
	return b, nil
}

// Decision is the outcome of an acceptance.
type Decision struct {
	Job      jobs.Job `json:"job"`
	Bid      Bid      `json:"bid"`
	Rejected []string `json:"rejected_bid_ids"`
}

// AcceptBid chooses bidID for its job. Repeating an acceptance that already won is a no-op
// success; accepting a different bid once the job is decided fails with already_decided.
func (l *Ledger) AcceptBid(ctx context.Context, bidID string) (Decision, error) {
	b, err := l.GetBid(ctx, bidID)
	if err != nil {
		return Decision{}, err
	}
	job, err := l.jobs.GetJob(ctx, b.JobID)
	if err != nil {
		return Decision{}, err
	}

	if job.Decided() {
		if !job.HasAccepted(bidID) {
			return Decision{}, apperr.Conflict(apperr.CodeAlreadyDecided, "job already has an accepted bid", job)
		}
		return l.completeAcceptance(ctx, job, b)
	}
	if job.Status != jobs.StatusOpen {
		return Decision{}, apperr.Conflict(apperr.CodeJobClosed, "job is not accepting bids", job)
	}
	if b.Status == StatusRejected {
		return Decision{}, apperr.Conflict(apperr.CodeConflict, "bid was rejected", b)
	}

	job, err = l.jobs.TransitionStatus(ctx, job.ID, jobs.StatusInProgress, &bidID)
	if err != nil {
		return Decision{}, err
	}
	return l.completeAcceptance(ctx, job, b)
}

// completeAcceptance runs the steps after the job decision landed: mark the bid accepted,
// reject pending siblings and tell the bidders.
func (l *Ledger) completeAcceptance(ctx context.Context, job jobs.Job, b Bid) (Decision, error) {
	changed := false
	if b.Status != StatusAccepted {
		now := l.clock()
		ok, err := l.retry(ctx, func() (bool, error) {
			return l.store.CompareAndSwapBidStatus(ctx, b.ID, StatusPending, StatusAccepted, now)
		})
		if err != nil {
			return Decision{}, apperr.Storage("accept bid", err)
		}
		if ok {
			b.Status = StatusAccepted
			b.UpdatedAt = now
			changed = true
		} else {
			current, err := l.GetBid(ctx, b.ID)
			if err != nil {
				return Decision{}, err
			}
			if current.Status == StatusRejected {
				if err := l.jobs.RevertAcceptance(ctx, job.ID, b.ID); err != nil {
					l.logger.Error("job left pointing at rejected bid", "job_id", job.ID, "bid_id", b.ID, "error", err)
				}
				return Decision{}, apperr.Conflict(apperr.CodeConflict, "bid was rejected before it could be accepted", current)
			}
			b = current
		}
	}

	rejected := l.rejectPending(ctx, job.ID, b.ID)

	if changed {
		l.logger.Info("bid accepted", "bid_id", b.ID, "job_id", job.ID, "rejected", len(rejected))
		l.notify(ctx, alerts.Event{
			Type:       alerts.EventBidAccepted,
			JobID:      job.ID,
			BidID:      b.ID,
			Recipients: []string{b.BidderID},
			Amount:     b.Amount,
			Title:      "Your bid was accepted",
			Message:    fmt.Sprintf("Your bid on %q was accepted.", job.Title),
			Data:       b,
		})
	}
	return Decision{Job: job, Bid: b, Rejected: rejected}, nil
}

// rejectPending rejects every pending bid on the job except keep. Bids that cannot be rejected
// after retries stay pending for Reconcile.
func (l *Ledger) rejectPending(ctx context.Context, jobID, keep string) []string {
	pending, err := store.Collect(l.listBids(ctx, Filter{JobID: jobID, Status: StatusPending}, store.MaxPageSize))
	if err != nil {
		l.logger.Warn("pending bids not listed; left for reconciliation", "job_id", jobID, "error", err)
		return nil
	}

	rejected := []string{}
	for _, sib := range pending {
		if sib.ID == keep {
			continue
		}
		now := l.clock()
		ok, err := l.retry(ctx, func() (bool, error) {
			return l.store.CompareAndSwapBidStatus(ctx, sib.ID, StatusPending, StatusRejected, now)
		})
		if err != nil {
			l.logger.Warn("bid left pending; left for reconciliation", "job_id", jobID, "bid_id", sib.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		rejected = append(rejected, sib.ID)
		l.notify(ctx, alerts.Event{
			Type:       alerts.EventBidRejected,
			JobID:      jobID,
			BidID:      sib.ID,
			Recipients: []string{sib.BidderID},
			Title:      "Your bid was not selected",
			Message:    "The poster chose another bid for this job.",
		})
	}
	return rejected
}

// RejectBid rejects a pending bid. Rejecting a rejected bid is a no-op.
func (l *Ledger) RejectBid(ctx context.Context, bidID string) (Bid, error) {
	b, err := l.GetBid(ctx, bidID)
	if err != nil {
		return Bid{}, err
	}
	switch b.Status {
	case StatusRejected:
		return b, nil
	case StatusAccepted:
		return Bid{}, apperr.Conflict(apperr.CodeAlreadyDecided, "accepted bids cannot be rejected", b)
	}

	job, err := l.jobs.GetJob(ctx, b.JobID)
	if err != nil {
		return Bid{}, err
	}
	if job.HasAccepted(bidID) {
		return Bid{}, apperr.Conflict(apperr.CodeAlreadyDecided, "bid has been chosen for the job", job)
	}

	now := l.clock()
	ok, err := l.store.CompareAndSwapBidStatus(ctx, bidID, StatusPending, StatusRejected, now)
	if err != nil {
		return Bid{}, apperr.Storage("reject bid", err)
	}
	if !ok {
		current, err := l.GetBid(ctx, bidID)
		if err != nil {
			return Bid{}, err
		}
		if current.Status == StatusRejected {
			return current, nil
		}
		return Bid{}, apperr.Conflict(apperr.CodeAlreadyDecided, "bid was accepted concurrently", current)
	}

	b.Status = StatusRejected
	b.UpdatedAt = now
	l.logger.Info("bid rejected", "bid_id", b.ID, "job_id", b.JobID)
	l.notify(ctx, alerts.Event{
		Type:       alerts.EventBidRejected,
		JobID:      b.JobID,
		BidID:      b.ID,
		Recipients: []string{b.BidderID},
		Title:      "Your bid was declined",
		Message:    fmt.Sprintf("Your bid on %q was declined.", job.Title),
	})
	return b, nil
}

type ReviseParams struct {
	BidID       string
	BidderID    string
	Amount      money.Amount
	Timeline    string
	Description string
}

// ReviseBid replaces the terms of a pending bid and records the new version.
func (l *Ledger) ReviseBid(ctx context.Context, p ReviseParams) (Bid, error) {
	if !p.Amount.Positive() {
		return Bid{}, apperr.Validation("amount must be positive")
	}
	b, err := l.GetBid(ctx, p.BidID)
	if err != nil {
		return Bid{}, err
	}
	if b.BidderID != p.BidderID {
		return Bid{}, apperr.Validation("only the bidder can revise a bid")
	}
	if b.Status != StatusPending {
		return Bid{}, apperr.Conflict(apperr.CodeConflict, "only pending bids can be revised", b)
	}
	job, err := l.jobs.GetJob(ctx, b.JobID)
	if err != nil {
		return Bid{}, err
	}
	if job.Status != jobs.StatusOpen {
		return Bid{}, apperr.Conflict(apperr.CodeJobClosed, "job is not accepting bids", job)
	}

	next := b
	next.Amount = p.Amount
	next.Timeline = strings.TrimSpace(p.Timeline)
	next.Description = strings.TrimSpace(p.Description)
	next.Version = b.Version + 1
	next.UpdatedAt = l.clock()

	ok, err := l.store.UpdateBidTerms(ctx, next, b.Version)
	if err != nil {
		return Bid{}, apperr.Storage("revise bid", err)
	}
	if !ok {
		current, err := l.GetBid(ctx, b.ID)
		if err != nil {
			return Bid{}, err
		}
		return Bid{}, apperr.Conflict(apperr.CodeConflict, "bid changed concurrently", current)
	}
	if _, err := l.retry(ctx, func() (bool, error) {
		return true, l.store.InsertRevision(ctx, revisionOf(next))
	}); err != nil {
		l.logger.Error("bid revision not recorded", "bid_id", next.ID, "version", next.Version, "error", err)
	}
	l.logger.Info("bid revised", "bid_id", next.ID, "version", next.Version, "amount", int64(next.Amount))
	return next, nil
}

func (l *Ledger) ListRevisions(ctx context.Context, bidID string) ([]Revision, error) {
	if _, err := l.GetBid(ctx, bidID); err != nil {
		return nil, err
	}
	revs, err := l.store.ListRevisions(ctx, bidID)
	if err != nil {
		return nil, apperr.Storage("list bid revisions", err)
	}
	return revs, nil
}

func (l *Ledger) ListBidsForJob(ctx context.Context, jobID string, pageSize int) iter.Seq2[Bid, error] {
	return l.listBids(ctx, Filter{JobID: jobID}, pageSize)
}

func (l *Ledger) ListBidsForBidder(ctx context.Context, bidderID string, pageSize int) iter.Seq2[Bid, error] {
	return l.listBids(ctx, Filter{BidderID: bidderID}, pageSize)
}

func (l *Ledger) listBids(ctx context.Context, f Filter, pageSize int) iter.Seq2[Bid, error] {
	return store.Iterate(ctx, pageSize, func(ctx context.Context, p store.Page) ([]Bid, error) {
		items, _, err := l.ListPage(ctx, f, p)
		return items, err
	}, Bid.Cursor)
}

// ListPage returns one page of bids, newest first, and the cursor of the next page.
func (l *Ledger) ListPage(ctx context.Context, f Filter, p store.Page) ([]Bid, *store.Cursor, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, nil, apperr.Validation("unknown bid status %q", f.Status)
	}
	p = p.Normalize()
	items, err := l.store.ListBids(ctx, f, p)
	if err != nil {
		return nil, nil, apperr.Storage("list bids", err)
	}
	var next *store.Cursor
	if len(items) == p.Limit {
		c := items[len(items)-1].Cursor()
		next = &c
	}
	return items, next, nil
}

// Reconcile repairs what an interrupted acceptance can leave behind on one job: an accepted bid
// still pending, or pending siblings on a decided or cancelled job. It returns how many bids it
// rejected.
func (l *Ledger) Reconcile(ctx context.Context, jobID string) (int, error) {
	job, err := l.jobs.GetJob(ctx, jobID)
	if err != nil {
		return 0, err
	}

	keep := ""
	if job.Decided() {
		keep = *job.AcceptedBidID
		b, err := l.GetBid(ctx, keep)
		if err != nil {
			return 0, err
		}
		if b.Status == StatusPending {
			if _, err := l.store.CompareAndSwapBidStatus(ctx, keep, StatusPending, StatusAccepted, l.clock()); err != nil {
				return 0, apperr.Storage("reconcile accepted bid", err)
			}
			l.logger.Info("reconciled accepted bid", "job_id", jobID, "bid_id", keep)
		}
	} else if job.Status != jobs.StatusCancelled {
		return 0, nil
	}

	rejected := l.rejectPending(ctx, jobID, keep)
	if len(rejected) > 0 {
		l.logger.Info("reconciled pending bids", "job_id", jobID, "rejected", len(rejected))
	}
	return len(rejected), nil
}

// SweepDecided reconciles every job that no longer takes bids.
func (l *Ledger) SweepDecided(ctx context.Context) (int, error) {
	total := 0
	for _, status := range []jobs.Status{jobs.StatusInProgress, jobs.StatusCompleted, jobs.StatusCancelled} {
		for job, err := range l.jobs.ListJobs(ctx, jobs.Filter{Status: status}, store.MaxPageSize) {
			if err != nil {
				return total, err
			}
			n, err := l.Reconcile(ctx, job.ID)
			if err != nil {
				l.logger.Warn("reconcile failed", "job_id", job.ID, "error", err)
				continue
			}
			total += n
		}
	}
	return total, nil
}

func (l *Ledger) retry(ctx context.Context, op func() (bool, error)) (bool, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = l.retryInitial
	eb.MaxInterval = 20 * l.retryInitial
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(l.attempts-1)), ctx)

	var ok bool
	err := backoff.Retry(func() error {
		var err error
		ok, err = op()
		return err
	}, policy)
	return ok, err
}

func (l *Ledger) notify(ctx context.Context, ev alerts.Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = l.clock()
	}
	if err := l.notifier.Notify(ctx, ev); err != nil {
		l.logger.Warn("notification not delivered", "type", ev.Type, "error", err)
	}
}
