package sqlite

import (
	"context"
	"fmt"

	"github.com/sudo-init-do/jobhub/internal/admin"
	"github.com/sudo-init-do/jobhub/internal/escrow"
	"github.com/sudo-init-do/jobhub/internal/jobs"
	"github.com/sudo-init-do/jobhub/internal/money"
)

func (s *Store) CountJobsByStatus(ctx context.Context) (map[jobs.Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: count jobs: %w", err)
	}
	defer rows.Close()

	out := make(map[jobs.Status]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("sqlite: scan job count: %w", err)
		}
		out[jobs.Status(status)] = n
	}
	return out, rows.Err()
}

func (s *Store) PaymentTotals(ctx context.Context) ([]admin.PaymentTotal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(amount), 0) FROM payments GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: payment totals: %w", err)
	}
	defer rows.Close()

	var out []admin.PaymentTotal
	for rows.Next() {
		var (
			status string
			t      admin.PaymentTotal
			amount int64
		)
		if err := rows.Scan(&status, &t.Count, &amount); err != nil {
			return nil, fmt.Errorf("sqlite: scan payment total: %w", err)
		}
		t.Status = escrow.Status(status)
		t.Amount = money.Amount(amount)
		out = append(out, t)
	}
	return out, rows.Err()
}
