package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/sudo-init-do/jobhub/internal/escrow"
	"github.com/sudo-init-do/jobhub/internal/store"
)

const paymentColumns = `id, job_id, bid_id, poster_id, provider_id, amount, currency, status,
	authorization_ref, external_reference, transfer_ref, refund_ref, dispute_ref,
	released_amount, refunded_amount, fee_amount,
	release_reason, refund_reason, dispute_reason, dispute_evidence,
	release_date, created_at, updated_at`

func scanPayment(sc scanner) (escrow.Payment, error) {
	var p escrow.Payment
	err := sc.Scan(
		&p.ID, &p.JobID, &p.BidID, &p.PosterID, &p.ProviderID, &p.Amount, &p.Currency, &p.Status,
		&p.AuthorizationRef, &p.ExternalReference, &p.TransferRef, &p.RefundRef, &p.DisputeRef,
		&p.ReleasedAmount, &p.RefundedAmount, &p.FeeAmount,
		&p.ReleaseReason, &p.RefundReason, &p.DisputeReason, &p.DisputeEvidence,
		&p.ReleaseDate, &p.CreatedAt, &p.UpdatedAt,
	)
	p.ReleaseDate = utcPtr(p.ReleaseDate)
	p.CreatedAt, p.UpdatedAt = utc(p.CreatedAt), utc(p.UpdatedAt)
	return p, err
}

func evidence(ev []string) []string {
	if ev == nil {
		return []string{}
	}
	return ev
}

func (s *Store) InsertPayment(ctx context.Context, p escrow.Payment) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		p.ID, p.JobID, p.BidID, p.PosterID, p.ProviderID, int64(p.Amount), p.Currency, string(p.Status),
		p.AuthorizationRef, p.ExternalReference, p.TransferRef, p.RefundRef, p.DisputeRef,
		int64(p.ReleasedAmount), int64(p.RefundedAmount), int64(p.FeeAmount),
		p.ReleaseReason, p.RefundReason, p.DisputeReason, evidence(p.DisputeEvidence),
		p.ReleaseDate, p.CreatedAt, p.UpdatedAt,
	)
	if isDuplicate(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("postgres: insert payment: %w", err)
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (escrow.Payment, error) {
	p, err := scanPayment(s.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if err != nil {
		return escrow.Payment{}, notFound(err, "get payment")
	}
	return p, nil
}

func (s *Store) GetPaymentByBid(ctx context.Context, bidID string) (escrow.Payment, error) {
	p, err := scanPayment(s.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE bid_id = $1`, bidID))
	if err != nil {
		return escrow.Payment{}, notFound(err, "get payment by bid")
	}
	return p, nil
}

func (s *Store) ListPayments(ctx context.Context, f escrow.Filter, p store.Page) ([]escrow.Payment, error) {
	var w where
	if f.Status != "" {
		w.eq("status", string(f.Status))
	}
	if f.JobID != "" {
		w.eq("job_id", f.JobID)
	}
	w.after(p.After)
	q := `SELECT ` + paymentColumns + ` FROM payments` + w.page(p.Limit)

	rows, err := s.pool.Query(ctx, q, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list payments: %w", err)
	}
	defer rows.Close()

	var out []escrow.Payment
	for rows.Next() {
		pay, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan payment: %w", err)
		}
		out = append(out, pay)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePayment(ctx context.Context, p escrow.Payment, from escrow.Status) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE payments SET
			status = $1, authorization_ref = $2, external_reference = $3, transfer_ref = $4,
			refund_ref = $5, dispute_ref = $6, released_amount = $7, refunded_amount = $8,
			fee_amount = $9, release_reason = $10, refund_reason = $11, dispute_reason = $12,
			dispute_evidence = $13, release_date = $14, updated_at = $15
		 WHERE id = $16 AND status = $17`,
		string(p.Status), p.AuthorizationRef, p.ExternalReference, p.TransferRef,
		p.RefundRef, p.DisputeRef, int64(p.ReleasedAmount), int64(p.RefundedAmount),
		int64(p.FeeAmount), p.ReleaseReason, p.RefundReason, p.DisputeReason,
		evidence(p.DisputeEvidence), p.ReleaseDate, p.UpdatedAt,
		p.ID, string(from),
	)
	return affected(tag, err, "update payment")
}

// =========================
// Idempotency keys
// =========================

func (s *Store) ClaimIdempotencyKey(ctx context.Context, rec escrow.IdempotencyRecord) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO idempotency_keys (scope, operation, idem_key, state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (scope, operation, idem_key) DO NOTHING`,
		rec.Scope, rec.Operation, rec.Key, string(rec.State), rec.CreatedAt, rec.UpdatedAt,
	)
	return affected(tag, err, "claim idempotency key")
}

func (s *Store) GetIdempotencyRecord(ctx context.Context, scope, op, key string) (escrow.IdempotencyRecord, error) {
	var rec escrow.IdempotencyRecord
	err := s.pool.QueryRow(ctx,
		`SELECT scope, operation, idem_key, state, response, error_code, error_message,
		        error_retryable, error_local_mutation, error_current, created_at, updated_at
		 FROM idempotency_keys WHERE scope = $1 AND operation = $2 AND idem_key = $3`,
		scope, op, key,
	).Scan(&rec.Scope, &rec.Operation, &rec.Key, &rec.State, &rec.Response, &rec.ErrorCode, &rec.ErrorMessage,
		&rec.ErrorRetryable, &rec.ErrorLocalMutation, &rec.ErrorCurrent, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return escrow.IdempotencyRecord{}, notFound(err, "get idempotency key")
	}
	rec.CreatedAt, rec.UpdatedAt = utc(rec.CreatedAt), utc(rec.UpdatedAt)
	return rec, nil
}

func (s *Store) TakeOverIdempotencyKey(ctx context.Context, scope, op, key string, staleBefore, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE idempotency_keys SET updated_at = $1
		 WHERE scope = $2 AND operation = $3 AND idem_key = $4 AND state = 'pending' AND updated_at < $5`,
		now, scope, op, key, staleBefore,
	)
	return affected(tag, err, "take over idempotency key")
}

func (s *Store) FinishIdempotencyKey(ctx context.Context, rec escrow.IdempotencyRecord) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE idempotency_keys SET state = $1, response = $2, error_code = $3, error_message = $4,
		        error_retryable = $5, error_local_mutation = $6, error_current = $7, updated_at = $8
		 WHERE scope = $9 AND operation = $10 AND idem_key = $11`,
		string(rec.State), rec.Response, rec.ErrorCode, rec.ErrorMessage,
		rec.ErrorRetryable, rec.ErrorLocalMutation, rec.ErrorCurrent, rec.UpdatedAt,
		rec.Scope, rec.Operation, rec.Key,
	)
	if err != nil {
		return fmt.Errorf("postgres: finish idempotency key: %w", err)
	}
	return nil
}

func (s *Store) DeleteIdempotencyKey(ctx context.Context, scope, op, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE scope = $1 AND operation = $2 AND idem_key = $3 AND state = 'pending'`,
		scope, op, key,
	)
	if err != nil {
		return fmt.Errorf("postgres: delete idempotency key: %w", err)
	}
	return nil
}
