package postgres

import (
	"context"
	"fmt"

	"github.com/sudo-init-do/jobhub/internal/admin"
	"github.com/sudo-init-do/jobhub/internal/jobs"
)

func (s *Store) CountJobsByStatus(ctx context.Context) (map[jobs.Status]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("postgres: count jobs: %w", err)
	}
	defer rows.Close()

	out := make(map[jobs.Status]int64)
	for rows.Next() {
		var (
			status jobs.Status
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("postgres: scan job count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (s *Store) PaymentTotals(ctx context.Context) ([]admin.PaymentTotal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(amount), 0)::BIGINT FROM payments GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, fmt.Errorf("postgres: payment totals: %w", err)
	}
	defer rows.Close()

	var out []admin.PaymentTotal
	for rows.Next() {
		var t admin.PaymentTotal
		if err := rows.Scan(&t.Status, &t.Count, &t.Amount); err != nil {
			return nil, fmt.Errorf("postgres: scan payment total: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
