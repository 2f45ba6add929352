// Package escrow orchestrates authorization, capture, release, refund and dispute of job payments
// against an external processor while keeping the local payment record in sync.
//
// The processor is always called before the local transition is written, and the transition is a
// conditional write on the payment's current status. A failed processor call therefore leaves the
// payment where it was. Keyed requests are deduplicated through idempotency records so a retried
// request never produces a second external effect.
package escrow

import (
	"context"
	"encoding/json"
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
	"github.com/sudo-init-do/jobhub/internal/bids"
	"github.com/sudo-init-do/jobhub/internal/jobs"
	"github.com/sudo-init-do/jobhub/internal/money"
	"github.com/sudo-init-do/jobhub/internal/store"
)

const (
	opAuthorize = "authorize"
	opCapture   = "capture"
	opRelease   = "release"
	opRefund    = "refund"
	opDispute   = "dispute"
)

type Jobs interface {
	GetJob(ctx context.Context, id string) (jobs.Job, error)
}

type Bids interface {
	GetBid(ctx context.Context, id string) (bids.Bid, error)
}

type Option func(*Coordinator)

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithNotifier(n alerts.Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithCallTimeout bounds every single processor attempt.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithRetry sets the attempt budget and first backoff interval for transient processor failures.
func WithRetry(attempts int, initial time.Duration) Option {
	return func(c *Coordinator) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if initial > 0 {
			c.backoffInitial = initial
		}
	}
}

// WithFeeBasisPoints sets the platform fee withheld from releases.
func WithFeeBasisPoints(bps int64) Option {
	return func(c *Coordinator) { c.feeBps = bps }
}

func WithDefaultCurrency(currency string) Option {
	return func(c *Coordinator) {
		if currency != "" {
			c.currency = strings.ToUpper(currency)
		}
	}
}

// WithPollInterval sets how often a duplicate keyed request checks for the original's outcome.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

type Coordinator struct {
	store     Store
	jobs      Jobs
	bids      Bids
	processor Processor
	notifier  alerts.Notifier
	logger    *slog.Logger
	now       func() time.Time

	callTimeout    time.Duration
	attempts       int
	backoffInitial time.Duration
	feeBps         int64
	currency       string
	pollInterval   time.Duration
}

func NewCoordinator(s Store, j Jobs, b Bids, p Processor, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:          s,
		jobs:           j,
		bids:           b,
		processor:      p,
		notifier:       alerts.Nop{},
		logger:         slog.Default(),
		now:            time.Now,
		callTimeout:    10 * time.Second,
		attempts:       3,
		backoffInitial: 200 * time.Millisecond,
		currency:       "USD",
		pollInterval:   50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) clock() time.Time { return c.now().UTC().Truncate(time.Microsecond) }

// staleAfter is how long a pending idempotency claim may go untouched before another request
// may take it over.
func (c *Coordinator) staleAfter() time.Duration {
	return 2 * time.Duration(c.attempts) * (c.callTimeout + 10*c.backoffInitial)
}

func (c *Coordinator) GetPayment(ctx context.Context, id string) (Payment, error) {
	p, err := c.store.GetPayment(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return Payment{}, apperr.NotFound("payment", id)
	}
	if err != nil {
		return Payment{}, apperr.Storage("get payment", err)
	}
	return p, nil
}

func (c *Coordinator) GetPaymentForBid(ctx context.Context, bidID string) (Payment, error) {
	p, err := c.store.GetPaymentByBid(ctx, bidID)
	if errors.Is(err, store.ErrNotFound) {
		return Payment{}, apperr.NotFound("payment for bid", bidID)
	}
	if err != nil {
		return Payment{}, apperr.Storage("get payment", err)
	}
	return p, nil
}

func (c *Coordinator) ListPayments(ctx context.Context, f Filter, pageSize int) iter.Seq2[Payment, error] {
	return store.Iterate(ctx, pageSize, func(ctx context.Context, p store.Page) ([]Payment, error) {
		items, _, err := c.ListPage(ctx, f, p)
		return items, err
	}, Payment.Cursor)
}

func (c *Coordinator) ListPage(ctx context.Context, f Filter, p store.Page) ([]Payment, *store.Cursor, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, nil, apperr.Validation("unknown payment status %q", f.Status)
	}
	p = p.Normalize()
	items, err := c.store.ListPayments(ctx, f, p)
	if err != nil {
		return nil, nil, apperr.Storage("list payments", err)
	}
	var next *store.Cursor
	if len(items) == p.Limit {
		cur := items[len(items)-1].Cursor()
		next = &cur
	}
	return items, next, nil
}

// =========================
// Authorization and capture
// =========================

type AuthorizeParams struct {
	BidID          string
	Currency       string
	IdempotencyKey string
}

type AuthorizeResult struct {
	Payment      Payment `json:"payment"`
	ClientSecret string  `json:"client_secret"`
}

// Authorize creates the payment for an accepted bid and asks the processor for an authorization
// the client completes out of band. A bid has at most one payment; authorizing again while it is
// still created re-issues the same processor handle. Keyed requests are scoped to the bid.
func (c *Coordinator) Authorize(ctx context.Context, p AuthorizeParams) (AuthorizeResult, error) {
	return idempotent(ctx, c, "bid:"+p.BidID, opAuthorize, p.IdempotencyKey, func(ctx context.Context, _ string) (AuthorizeResult, bool, error) {
		res, err := c.authorize(ctx, p)
		return res, err == nil, err
	})
}

func (c *Coordinator) authorize(ctx context.Context, p AuthorizeParams) (AuthorizeResult, error) {
	b, err := c.bids.GetBid(ctx, p.BidID)
	if err != nil {
		return AuthorizeResult{}, err
	}
	if b.Status != bids.StatusAccepted {
		return AuthorizeResult{}, apperr.InvalidTransition("payment can only be authorized for an accepted bid", b)
	}
	job, err := c.jobs.GetJob(ctx, b.JobID)
	if err != nil {
		return AuthorizeResult{}, err
	}
	if !job.HasAccepted(b.ID) || job.Status == jobs.StatusCancelled {
		return AuthorizeResult{}, apperr.InvalidTransition("job is not payable", job)
	}

	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = c.currency
	}
	if len(currency) != 3 {
		return AuthorizeResult{}, apperr.Validation("currency must be a three-letter code")
	}

	now := c.clock()
	pay := Payment{
		ID:         uuid.NewString(),
		JobID:      job.ID,
		BidID:      b.ID,
		PosterID:   job.PostedBy,
		ProviderID: b.BidderID,
		Amount:     b.Amount,
		Currency:   currency,
		Status:     StatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	created := true
	if err := c.store.InsertPayment(ctx, pay); err != nil {
		if !errors.Is(err, store.ErrDuplicate) {
			return AuthorizeResult{}, apperr.Storage("create payment", err)
		}
		existing, err := c.GetPaymentForBid(ctx, b.ID)
		if err != nil {
			return AuthorizeResult{}, err
		}
		if existing.Status != StatusCreated {
			return AuthorizeResult{}, apperr.Conflict(apperr.CodeConflict, "payment already authorized", existing)
		}
		pay, created = existing, false
	}

	var auth Authorization
	err = c.call(ctx, opAuthorize, func(ctx context.Context) error {
		var err error
		auth, err = c.processor.Authorize(ctx, AuthorizeRequest{
			PaymentID:      pay.ID,
			Amount:         pay.Amount,
			Currency:       pay.Currency,
			IdempotencyKey: processorKey(opAuthorize, pay.ID, ""),
			Metadata:       map[string]string{"job_id": pay.JobID, "bid_id": pay.BidID},
		})
		return err
	})
	if err != nil {
		if e, ok := apperr.As(err); ok {
			e.LocalMutation = created
		}
		return AuthorizeResult{}, err
	}

	if pay.AuthorizationRef != auth.Reference {
		next := pay
		next.AuthorizationRef = auth.Reference
		next.UpdatedAt = c.clock()
		ok, err := c.store.UpdatePayment(ctx, next, StatusCreated)
		if err != nil {
			return AuthorizeResult{}, apperr.Storage("record authorization", err)
		}
		if ok {
			pay = next
		} else if pay, err = c.GetPayment(ctx, pay.ID); err != nil {
			return AuthorizeResult{}, err
		}
	}

	c.logger.Info("payment authorized", "payment_id", pay.ID, "bid_id", pay.BidID, "amount", int64(pay.Amount), "currency", pay.Currency)
	c.notify(ctx, alerts.Event{
		Type:       alerts.EventPaymentAuthorized,
		JobID:      pay.JobID,
		BidID:      pay.BidID,
		PaymentID:  pay.ID,
		Recipients: []string{pay.PosterID},
		Amount:     pay.Amount,
		Title:      "Payment authorization started",
	})
	return AuthorizeResult{Payment: pay, ClientSecret: auth.ClientSecret}, nil
}

type CaptureParams struct {
	PaymentID      string
	Confirmation   CaptureConfirmation
	IdempotencyKey string
}

// ConfirmCapture verifies the processor's capture confirmation and moves the payment to held.
func (c *Coordinator) ConfirmCapture(ctx context.Context, p CaptureParams) (Payment, error) {
	return idempotent(ctx, c, p.PaymentID, opCapture, p.IdempotencyKey, func(ctx context.Context, key string) (Payment, bool, error) {
		pay, err := c.GetPayment(ctx, p.PaymentID)
		if err != nil {
			return Payment{}, false, err
		}
		if pay.Status == StatusHeld && pay.ExternalReference != "" && pay.ExternalReference == p.Confirmation.Reference {
			return pay, false, nil
		}
		if !CanTransition(pay.Status, StatusHeld) {
			return Payment{}, false, apperr.InvalidTransition(fmt.Sprintf("payment is %s and cannot be captured", pay.Status), pay)
		}
		if pay.AuthorizationRef == "" {
			return Payment{}, false, apperr.InvalidTransition("payment has not been authorized", pay)
		}
		if p.Confirmation.Reference == "" {
			return Payment{}, false, apperr.Validation("confirmation reference is required")
		}

		var capt Capture
		err = c.call(ctx, opCapture, func(ctx context.Context) error {
			var err error
			capt, err = c.processor.ConfirmCapture(ctx, CaptureRequest{
				PaymentID:        pay.ID,
				AuthorizationRef: pay.AuthorizationRef,
				Confirmation:     p.Confirmation,
				IdempotencyKey:   key,
			})
			return err
		})
		if err != nil {
			return Payment{}, false, err
		}
		if capt.Amount != pay.Amount || !strings.EqualFold(capt.Currency, pay.Currency) {
			return Payment{}, false, apperr.Validation("captured %s %s does not match authorized %s %s", capt.Amount, capt.Currency, pay.Amount, pay.Currency)
		}

		next := pay
		next.Status = StatusHeld
		next.ExternalReference = capt.Reference
		next.UpdatedAt = c.clock()
		out, err := c.commit(ctx, pay, next, opCapture)
		if err != nil {
			return Payment{}, true, err
		}
		c.logger.Info("payment held", "payment_id", out.ID, "reference", out.ExternalReference)
		c.notify(ctx, alerts.Event{
			Type:       alerts.EventPaymentHeld,
			JobID:      out.JobID,
			BidID:      out.BidID,
			PaymentID:  out.ID,
			Recipients: []string{out.PosterID, out.ProviderID},
			Amount:     out.Amount,
			Title:      "Funds are held in escrow",
		})
		return out, true, nil
	})
}

// =========================
// Release, refund, dispute
// =========================

type ReleaseParams struct {
	PaymentID      string
	Amount         money.Amount
	Reason         string
	IdempotencyKey string
}

// Release transfers held funds, less the platform fee, to the provider once the job is
// completed. On processor failure the payment stays held.
func (c *Coordinator) Release(ctx context.Context, p ReleaseParams) (Payment, error) {
	return idempotent(ctx, c, p.PaymentID, opRelease, p.IdempotencyKey, func(ctx context.Context, key string) (Payment, bool, error) {
		pay, err := c.GetPayment(ctx, p.PaymentID)
		if err != nil {
			return Payment{}, false, err
		}
		if !p.Amount.Positive() || p.Amount > pay.Amount {
			return Payment{}, false, apperr.Validation("release amount must be between 0.01 and %s", pay.Amount)
		}
		if !CanTransition(pay.Status, StatusReleased) {
			return Payment{}, false, apperr.InvalidTransition(fmt.Sprintf("payment is %s; only held payments can be released", pay.Status), pay)
		}
		job, err := c.jobs.GetJob(ctx, pay.JobID)
		if err != nil {
			return Payment{}, false, err
		}
		if job.Status != jobs.StatusCompleted {
			return Payment{}, false, apperr.InvalidTransition("job must be completed before funds are released", job)
		}

		fee, payout := money.Split(p.Amount, c.feeBps)
		var rc Receipt
		err = c.call(ctx, opRelease, func(ctx context.Context) error {
			var err error
			rc, err = c.processor.Transfer(ctx, TransferRequest{
				PaymentID:      pay.ID,
				Reference:      pay.ExternalReference,
				DestinationID:  pay.ProviderID,
				Amount:         payout,
				Currency:       pay.Currency,
				Reason:         p.Reason,
				IdempotencyKey: key,
			})
			return err
		})
		if err != nil {
			return Payment{}, false, err
		}

		now := c.clock()
		next := pay
		next.Status = StatusReleased
		next.ReleasedAmount = p.Amount
		next.FeeAmount = fee
		next.TransferRef = rc.Reference
		next.ReleaseReason = p.Reason
		next.ReleaseDate = &now
		next.UpdatedAt = now
		out, err := c.commit(ctx, pay, next, opRelease)
		if err != nil {
			return Payment{}, true, err
		}
		c.logger.Info("payment released", "payment_id", out.ID, "amount", int64(p.Amount), "fee", int64(fee))
		c.notify(ctx, alerts.Event{
			Type:       alerts.EventPaymentReleased,
			JobID:      out.JobID,
			BidID:      out.BidID,
			PaymentID:  out.ID,
			Recipients: []string{out.ProviderID, out.PosterID},
			Amount:     payout,
			Title:      "Funds released",
			Message:    fmt.Sprintf("%s %s released to the provider.", payout, out.Currency),
		})
		return out, true, nil
	})
}

type RefundParams struct {
	PaymentID      string
	Amount         money.Amount
	Reason         string
	IdempotencyKey string
}

// Refund returns funds to the poster from a created or held payment.
func (c *Coordinator) Refund(ctx context.Context, p RefundParams) (Payment, error) {
	return idempotent(ctx, c, p.PaymentID, opRefund, p.IdempotencyKey, func(ctx context.Context, key string) (Payment, bool, error) {
		pay, err := c.GetPayment(ctx, p.PaymentID)
		if err != nil {
			return Payment{}, false, err
		}
		if !p.Amount.Positive() {
			return Payment{}, false, apperr.Validation("refund amount must be positive")
		}
		if p.Amount > pay.Amount {
			return Payment{}, false, apperr.Validation("refund amount %s exceeds the authorized %s", p.Amount, pay.Amount)
		}
		if !CanTransition(pay.Status, StatusRefunded) {
			return Payment{}, false, apperr.InvalidTransition(fmt.Sprintf("payment is %s and cannot be refunded", pay.Status), pay)
		}

		ref := pay.ExternalReference
		if pay.Status == StatusCreated {
			ref = pay.AuthorizationRef
		}
		var rc Receipt
		err = c.call(ctx, opRefund, func(ctx context.Context) error {
			var err error
			rc, err = c.processor.Refund(ctx, RefundRequest{
				PaymentID:      pay.ID,
				Reference:      ref,
				Amount:         p.Amount,
				Currency:       pay.Currency,
				Reason:         p.Reason,
				IdempotencyKey: key,
			})
			return err
		})
		if err != nil {
			return Payment{}, false, err
		}

		next := pay
		next.Status = StatusRefunded
		next.RefundedAmount = p.Amount
		next.RefundRef = rc.Reference
		next.RefundReason = p.Reason
		next.UpdatedAt = c.clock()
		out, err := c.commit(ctx, pay, next, opRefund)
		if err != nil {
			return Payment{}, true, err
		}
		c.logger.Info("payment refunded", "payment_id", out.ID, "amount", int64(p.Amount))
		c.notify(ctx, alerts.Event{
			Type:       alerts.EventPaymentRefunded,
			JobID:      out.JobID,
			BidID:      out.BidID,
			PaymentID:  out.ID,
			Recipients: []string{out.PosterID, out.ProviderID},
			Amount:     p.Amount,
			Title:      "Payment refunded",
		})
		return out, true, nil
	})
}

type DisputeParams struct {
	PaymentID      string
	Reason         string
	Evidence       []string
	IdempotencyKey string
}

// Dispute freezes held funds until the dispute is resolved out of band.
func (c *Coordinator) Dispute(ctx context.Context, p DisputeParams) (Payment, error) {
	return idempotent(ctx, c, p.PaymentID, opDispute, p.IdempotencyKey, func(ctx context.Context, key string) (Payment, bool, error) {
		reason := strings.TrimSpace(p.Reason)
		if reason == "" {
			return Payment{}, false, apperr.Validation("dispute reason is required")
		}
		pay, err := c.GetPayment(ctx, p.PaymentID)
		if err != nil {
			return Payment{}, false, err
		}
		if !CanTransition(pay.Status, StatusDisputed) {
			return Payment{}, false, apperr.InvalidTransition(fmt.Sprintf("payment is %s and cannot be disputed", pay.Status), pay)
		}

		var rc Receipt
		err = c.call(ctx, opDispute, func(ctx context.Context) error {
			var err error
			rc, err = c.processor.OpenDispute(ctx, DisputeRequest{
				PaymentID:      pay.ID,
				Reference:      pay.ExternalReference,
				Reason:         reason,
				Evidence:       p.Evidence,
				IdempotencyKey: key,
			})
			return err
		})
		if err != nil {
			return Payment{}, false, err
		}

		next := pay
		next.Status = StatusDisputed
		next.DisputeReason = reason
		next.DisputeEvidence = p.Evidence
		next.DisputeRef = rc.Reference
		next.UpdatedAt = c.clock()
		out, err := c.commit(ctx, pay, next, opDispute)
		if err != nil {
			return Payment{}, true, err
		}
		c.logger.Warn("payment disputed", "payment_id", out.ID, "job_id", out.JobID)
		c.notify(ctx, alerts.Event{
			Type:       alerts.EventDisputeOpened,
			JobID:      out.JobID,
			BidID:      out.BidID,
			PaymentID:  out.ID,
			Recipients: []string{out.PosterID, out.ProviderID},
			Amount:     out.Amount,
			Title:      "Payment disputed",
			Message:    reason,
		})
		return out, true, nil
	})
}

// commit writes after over before. A lost write never succeeds: a concurrent request that already
// made the same transition yields AlreadyDecided, and one that moved the payment elsewhere or
// recorded a different processor effect is reported for reconciliation.
func (c *Coordinator) commit(ctx context.Context, before, after Payment, op string) (Payment, error) {
	ok, err := c.store.UpdatePayment(ctx, after, before.Status)
	if err != nil {
		c.reconcileNeeded(ctx, after, op, err)
		return Payment{}, apperr.Storage(op+" succeeded at the processor but was not recorded", err)
	}
	if ok {
		return after, nil
	}
	current, err := c.GetPayment(ctx, before.ID)
	if err != nil {
		return Payment{}, err
	}
	if current.Status == after.Status && effectRef(current, op) == effectRef(after, op) {
		return Payment{}, apperr.Conflict(apperr.CodeAlreadyDecided, fmt.Sprintf("payment was already moved to %s by another request", current.Status), current)
	}
	cause := errors.New("payment changed during processor call")
	if current.Status == after.Status {
		cause = fmt.Errorf("processor reference %q was not recorded; payment holds %q", effectRef(after, op), effectRef(current, op))
	}
	c.reconcileNeeded(ctx, current, op, cause)
	return Payment{}, apperr.Conflict(apperr.CodeConflict, fmt.Sprintf("payment changed during %s; processor effect needs reconciliation", op), current)
}

// effectRef is the processor reference op leaves on a payment.
func effectRef(p Payment, op string) string {
	switch op {
	case opCapture:
		return p.ExternalReference
	case opRelease:
		return p.TransferRef
	case opRefund:
		return p.RefundRef
	case opDispute:
		return p.DisputeRef
	}
	return ""
}

func (c *Coordinator) reconcileNeeded(ctx context.Context, p Payment, op string, cause error) {
	c.logger.Error("payment needs reconciliation", "payment_id", p.ID, "op", op, "error", cause)
	c.notify(ctx, alerts.Event{
		Type:      alerts.EventReconcileNeeded,
		JobID:     p.JobID,
		BidID:     p.BidID,
		PaymentID: p.ID,
		Amount:    p.Amount,
		Title:     "Payment needs manual reconciliation",
		Message:   fmt.Sprintf("%s on payment %s: %v", op, p.ID, cause),
	})
}

// =========================
// Processor calls and idempotency
// =========================

// call runs fn under a per-attempt timeout, retrying transient failures with exponential backoff.
func (c *Coordinator) call(ctx context.Context, op string, fn func(context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.backoffInitial
	eb.MaxInterval = 10 * c.backoffInitial
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.attempts-1)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
		err := fn(callCtx)
		if err != nil && !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		c.logger.Warn("payment processor call failed, retrying", "op", op, "attempt", attempt, "wait", wait, "error", err)
	})
	if err != nil {
		c.logger.Error("payment processor call failed", "op", op, "attempts", attempt, "error", err)
		return apperr.External(op, err, Retryable(err), false)
	}
	return nil
}

// mutation performs one escrow operation. key is the processor idempotency key, derived from the
// operation and its scope alone so that concurrent requests for the same transition carry the same
// key to the processor whatever client key they arrived with. effect reports whether the processor
// already acted, which decides what happens to the idempotency record when the mutation fails.
type mutation[T any] func(ctx context.Context, key string) (res T, effect bool, err error)

func processorKey(op, scope, key string) string {
	if key == "" {
		return op + ":" + scope
	}
	return op + ":" + scope + ":" + key
}

// idempotent runs fn at most once per (scope, op, key). Duplicates arriving while it runs wait for
// its outcome; duplicates arriving later get the stored outcome.
func idempotent[T any](ctx context.Context, c *Coordinator, scope, op, key string, fn mutation[T]) (T, error) {
	var zero T
	if key == "" {
		res, _, err := fn(ctx, processorKey(op, scope, ""))
		return res, err
	}

	for {
		rec, err := c.store.GetIdempotencyRecord(ctx, scope, op, key)
		switch {
		case errors.Is(err, store.ErrNotFound):
			now := c.clock()
			ok, err := c.store.ClaimIdempotencyKey(ctx, IdempotencyRecord{
				Scope:     scope,
				Operation: op,
				Key:       key,
				State:     IdempotencyPending,
				CreatedAt: now,
				UpdatedAt: now,
			})
			if err != nil {
				return zero, apperr.Storage("claim idempotency key", err)
			}
			if ok {
				return runClaimed(ctx, c, scope, op, key, fn)
			}
		case err != nil:
			return zero, apperr.Storage("read idempotency key", err)
		case rec.State == IdempotencyCompleted:
			var res T
			if err := json.Unmarshal(rec.Response, &res); err != nil {
				return zero, apperr.Storage("decode idempotent response", err)
			}
			return res, nil
		case rec.State == IdempotencyFailed:
			return zero, restoreFailure(rec)
		default:
			now := c.clock()
			cutoff := now.Add(-c.staleAfter())
			if rec.UpdatedAt.Before(cutoff) {
				ok, err := c.store.TakeOverIdempotencyKey(ctx, scope, op, key, cutoff, now)
				if err != nil {
					return zero, apperr.Storage("take over idempotency key", err)
				}
				if ok {
					c.logger.Warn("took over stale idempotency claim", "scope", scope, "op", op)
					return runClaimed(ctx, c, scope, op, key, fn)
				}
				continue
			}
			if err := c.wait(ctx); err != nil {
				return zero, apperr.Conflict(apperr.CodeIdempotencyInProgress, "a request with this idempotency key is still in flight", nil)
			}
		}
	}
}

func runClaimed[T any](ctx context.Context, c *Coordinator, scope, op, key string, fn mutation[T]) (T, error) {
	var zero T
	res, effect, err := fn(ctx, processorKey(op, scope, ""))

	// the outcome is recorded even when the caller has gone away
	bg := context.WithoutCancel(ctx)
	rec := IdempotencyRecord{Scope: scope, Operation: op, Key: key, UpdatedAt: c.clock()}
	if err != nil {
		if !effect {
			if derr := c.store.DeleteIdempotencyKey(bg, scope, op, key); derr != nil {
				c.logger.Warn("idempotency claim not released", "scope", scope, "op", op, "error", derr)
			}
			return zero, err
		}
		recordFailure(&rec, err)
		if ferr := c.store.FinishIdempotencyKey(bg, rec); ferr != nil {
			c.logger.Error("idempotency failure not recorded", "scope", scope, "op", op, "error", ferr)
		}
		return zero, err
	}

	body, err := json.Marshal(res)
	if err != nil {
		return zero, apperr.Storage("encode idempotent response", err)
	}
	rec.State = IdempotencyCompleted
	rec.Response = body
	if ferr := c.store.FinishIdempotencyKey(bg, rec); ferr != nil {
		c.logger.Error("idempotent response not recorded", "scope", scope, "op", op, "error", ferr)
	}
	return res, nil
}

func recordFailure(rec *IdempotencyRecord, err error) {
	rec.State = IdempotencyFailed
	rec.ErrorCode = apperr.CodeOf(err)
	rec.ErrorMessage = apperr.MessageOf(err)
	e, ok := apperr.As(err)
	if !ok {
		return
	}
	rec.ErrorRetryable = e.Retryable
	rec.ErrorLocalMutation = e.LocalMutation
	if e.Current != nil {
		if body, merr := json.Marshal(e.Current); merr == nil {
			rec.ErrorCurrent = body
		}
	}
}

// restoreFailure rebuilds the error a failed keyed request returned the first time.
func restoreFailure(rec IdempotencyRecord) *apperr.Error {
	e := apperr.Restore(rec.ErrorCode, rec.ErrorMessage)
	e.Retryable = rec.ErrorRetryable
	e.LocalMutation = rec.ErrorLocalMutation
	if len(rec.ErrorCurrent) > 0 {
		e.Current = json.RawMessage(rec.ErrorCurrent)
	}
	return e
}

func (c *Coordinator) wait(ctx context.Context) error {
	t := time.NewTimer(c.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Coordinator) notify(ctx context.Context, ev alerts.Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = c.clock()
	}
	if err := c.notifier.Notify(ctx, ev); err != nil {
		c.logger.Warn("notification not delivered", "type", ev.Type, "error", err)
	}
}
