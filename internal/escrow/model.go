package escrow

import (
	"context"
	"time"

	"github.com/sudo-init-do/jobhub/internal/money"
	"github.com/sudo-init-do/jobhub/internal/store"
)

type Status string

const (
	StatusCreated  Status = "created"
	StatusHeld     Status = "held"
	StatusReleased Status = "released"
	StatusRefunded Status = "refunded"
	StatusDisputed Status = "disputed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusHeld, StatusReleased, StatusRefunded, StatusDisputed:
		return true
	}
	return false
}

var edges = map[Status][]Status{
	StatusCreated: {StatusHeld, StatusRefunded},
	StatusHeld:    {StatusReleased, StatusRefunded, StatusDisputed},
}

// CanTransition reports whether from -> to is an edge of the escrow state machine.
func CanTransition(from, to Status) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Payment is the local escrow record kept in sync with the payment processor.
type Payment struct {
	ID         string       `json:"id"`
	JobID      string       `json:"job_id"`
	BidID      string       `json:"bid_id"`
	PosterID   string       `json:"poster_id"`
	ProviderID string       `json:"provider_id"`
	Amount     money.Amount `json:"amount"`
	Currency   string       `json:"currency"`
	Status     Status       `json:"status"`

	AuthorizationRef  string `json:"authorization_ref,omitempty"`
	ExternalReference string `json:"external_reference,omitempty"`
	TransferRef       string `json:"transfer_ref,omitempty"`
	RefundRef         string `json:"refund_ref,omitempty"`
	DisputeRef        string `json:"dispute_ref,omitempty"`

	ReleasedAmount money.Amount `json:"released_amount"`
	RefundedAmount money.Amount `json:"refunded_amount"`
	FeeAmount      money.Amount `json:"fee_amount"`

	ReleaseReason   string   `json:"release_reason,omitempty"`
	RefundReason    string   `json:"refund_reason,omitempty"`
	DisputeReason   string   `json:"dispute_reason,omitempty"`
	DisputeEvidence []string `json:"dispute_evidence,omitempty"`

	ReleaseDate *time.Time `json:"release_date"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (p Payment) Cursor() store.Cursor { return store.Cursor{CreatedAt: p.CreatedAt, ID: p.ID} }

// Unreleased is the captured amount a partial release left behind.
func (p Payment) Unreleased() money.Amount {
	if p.Status != StatusReleased {
		return 0
	}
	return p.Amount - p.ReleasedAmount
}

type Filter struct {
	Status Status
	JobID  string
}

type IdempotencyState string

const (
	IdempotencyPending   IdempotencyState = "pending"
	IdempotencyCompleted IdempotencyState = "completed"
	IdempotencyFailed    IdempotencyState = "failed"
)

// IdempotencyRecord stores the outcome of a keyed escrow mutation.
type IdempotencyRecord struct {
	Scope              string
	Operation          string
	Key                string
	State              IdempotencyState
	Response           []byte
	ErrorCode          string
	ErrorMessage       string
	// detail of a recorded failure, replayed with it
	ErrorRetryable     bool
	ErrorLocalMutation bool
	ErrorCurrent       []byte
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Store interface {
	// InsertPayment fails with store.ErrDuplicate when the bid already has a payment.
	InsertPayment(ctx context.Context, p Payment) error
	GetPayment(ctx context.Context, id string) (Payment, error)
	GetPaymentByBid(ctx context.Context, bidID string) (Payment, error)
	ListPayments(ctx context.Context, f Filter, p store.Page) ([]Payment, error)
	// UpdatePayment writes every mutable field of p while the stored status equals from.
	UpdatePayment(ctx context.Context, p Payment, from Status) (bool, error)

	// ClaimIdempotencyKey inserts rec unless a record with the same scope, operation and key exists.
	ClaimIdempotencyKey(ctx context.Context, rec IdempotencyRecord) (bool, error)
	GetIdempotencyRecord(ctx context.Context, scope, op, key string) (IdempotencyRecord, error)
	// TakeOverIdempotencyKey refreshes a pending record last touched before staleBefore.
	TakeOverIdempotencyKey(ctx context.Context, scope, op, key string, staleBefore, now time.Time) (bool, error)
	// FinishIdempotencyKey stores the final state, response and error of a claimed record.
	FinishIdempotencyKey(ctx context.Context, rec IdempotencyRecord) error
	DeleteIdempotencyKey(ctx context.Context, scope, op, key string) error
}
