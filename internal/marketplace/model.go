package marketplace

import (
	"github.com/sudo-init-do/jobhub/internal/apperr"
	"github.com/sudo-init-do/jobhub/internal/money"
)

type CreateJobRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"required"`
	ServiceType string `json:"service_type" validate:"required,max=100"`
	Location    string `json:"location" validate:"max=200"`
}

// Amounts are decimal strings in major units, e.g. "500.00".
type BidRequest struct {
	Amount      string `json:"amount" validate:"required"`
	Timeline    string `json:"timeline" validate:"max=200"`
	Description string `json:"description"`
}

type AuthorizeRequest struct {
	Currency string `json:"currency" validate:"omitempty,len=3"`
}

type CaptureRequest struct {
	Reference string `json:"reference" validate:"required"`
	Amount    string `json:"amount" validate:"required"`
	Currency  string `json:"currency" validate:"required,len=3"`
	Signature string `json:"signature"`
}

// Amount defaults to the whole payment when empty.
type SettleRequest struct {
	Amount string `json:"amount"`
	Reason string `json:"reason" validate:"max=500"`
}

type DisputeRequest struct {
	Reason   string   `json:"reason" validate:"required,max=2000"`
	Evidence []string `json:"evidence" validate:"max=20,dive,max=2000"`
}

type ProgressRequest struct {
	BidID           string `json:"bid_id" validate:"required"`
	Status          string `json:"status" validate:"required,max=50"`
	ProgressPercent int    `json:"progress_percent" validate:"min=0,max=100"`
	Title           string `json:"title" validate:"required,max=200"`
	Body            string `json:"body"`
	Internal        bool   `json:"internal"`
}

func parseAmount(s string) (money.Amount, error) {
	a, err := money.Parse(s)
	if err != nil {
		return 0, apperr.Validation("amount %q is not a decimal amount", s)
	}
	return a, nil
}

// amountOr parses s, falling back to def when s is empty.
func amountOr(s string, def money.Amount) (money.Amount, error) {
	if s == "" {
		return def, nil
	}
	return parseAmount(s)
}
