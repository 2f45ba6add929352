package admin

import (
	"context"

	"github.com/sudo-init-do/jobhub/internal/escrow"
	"github.com/sudo-init-do/jobhub/internal/jobs"
	"github.com/sudo-init-do/jobhub/internal/money"
)

// PaymentTotal aggregates payments in one escrow status.
type PaymentTotal struct {
	Status escrow.Status `json:"status"`
	Count  int64         `json:"count"`
	Amount money.Amount  `json:"amount"`
}

// PaymentView is a payment as the operator dashboard shows it.
type PaymentView struct {
	escrow.Payment
	// Unreleased is what a partial release left in escrow.
	Unreleased money.Amount `json:"unreleased_amount"`
}

func NewPaymentView(p escrow.Payment) PaymentView {
	return PaymentView{Payment: p, Unreleased: p.Unreleased()}
}

// Store answers the aggregate queries behind the admin dashboard.
type Store interface {
	CountJobsByStatus(ctx context.Context) (map[jobs.Status]int64, error)
	PaymentTotals(ctx context.Context) ([]PaymentTotal, error)
}
