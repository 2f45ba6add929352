package escrow

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sudo-init-do/jobhub/internal/money"
)

// Processor is the external money-movement service. Every mutating call carries an idempotency
// key and returns an opaque reference that is stored on the payment.
type Processor interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error)
	ConfirmCapture(ctx context.Context, req CaptureRequest) (Capture, error)
	Transfer(ctx context.Context, req TransferRequest) (Receipt, error)
	Refund(ctx context.Context, req RefundRequest) (Receipt, error)
	OpenDispute(ctx context.Context, req DisputeRequest) (Receipt, error)
}

type AuthorizeRequest struct {
	PaymentID      string            `json:"payment_id"`
	Amount         money.Amount      `json:"amount"`
	Currency       string            `json:"currency"`
	IdempotencyKey string            `json:"-"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type Authorization struct {
	Reference    string `json:"reference"`
	ClientSecret string `json:"client_secret"`
}

// CaptureConfirmation is what the processor hands the client once funds are captured.
type CaptureConfirmation struct {
	Reference string       `json:"reference"`
	Amount    money.Amount `json:"amount"`
	Currency  string       `json:"currency"`
	Signature string       `json:"signature"`
}

type CaptureRequest struct {
	PaymentID        string              `json:"payment_id"`
	AuthorizationRef string              `json:"authorization_ref"`
	Confirmation     CaptureConfirmation `json:"confirmation"`
	IdempotencyKey   string              `json:"-"`
}

type Capture struct {
	Reference string       `json:"reference"`
	Amount    money.Amount `json:"amount"`
	Currency  string       `json:"currency"`
}

type TransferRequest struct {
	PaymentID      string       `json:"payment_id"`
	Reference      string       `json:"reference"`
	DestinationID  string       `json:"destination_id"`
	Amount         money.Amount `json:"amount"`
	Currency       string       `json:"currency"`
	Reason         string       `json:"reason,omitempty"`
	IdempotencyKey string       `json:"-"`
}

type RefundRequest struct {
	PaymentID      string       `json:"payment_id"`
	Reference      string       `json:"reference"`
	Amount         money.Amount `json:"amount"`
	Currency       string       `json:"currency"`
	Reason         string       `json:"reason,omitempty"`
	IdempotencyKey string       `json:"-"`
}

type DisputeRequest struct {
	PaymentID      string   `json:"payment_id"`
	Reference      string   `json:"reference"`
	Reason         string   `json:"reason"`
	Evidence       []string `json:"evidence,omitempty"`
	IdempotencyKey string   `json:"-"`
}

type Receipt struct {
	Reference string `json:"reference"`
}

// ProcessorError is a failure reported by the processor. Retryable marks transient causes such
// as rate limiting or upstream outages; declines and invalid requests are terminal.
type ProcessorError struct {
	Op         string
	Code       string
	Message    string
	StatusCode int
	Retryable  bool
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("processor %s: %s: %s (status=%d)", e.Op, e.Code, e.Message, e.StatusCode)
}

// Retryable reports whether err is worth another processor attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProcessorError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
