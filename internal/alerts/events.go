package alerts

import (
	"context"
	"errors"
	"time"

	"github.com/sudo-init-do/jobhub/internal/money"
)

// Event types emitted by the engine.
const (
	EventBidSubmitted      = "bid.submitted"
	EventBidAccepted       = "bid.accepted"
	EventBidRejected       = "bid.rejected"
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentHeld       = "payment.held"
	EventPaymentReleased   = "payment.released"
	EventPaymentRefunded   = "payment.refunded"
	EventDisputeOpened     = "payment.disputed"
	EventReconcileNeeded   = "payment.reconcile_needed"
	EventProgressPosted    = "progress.posted"
	EventJobCompleted      = "job.completed"
)

// Event is a domain fact worth telling participants about.
type Event struct {
	Type       string       `json:"type"`
	JobID      string       `json:"job_id,omitempty"`
	BidID      string       `json:"bid_id,omitempty"`
	PaymentID  string       `json:"payment_id,omitempty"`
	Recipients []string     `json:"recipients,omitempty"`
	Amount     money.Amount `json:"amount,omitempty"`
	Title      string       `json:"title"`
	Message    string       `json:"message,omitempty"`
	Data       any          `json:"data,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// Notifier delivers events. Engine callers treat delivery as best effort.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
