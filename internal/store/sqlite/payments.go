package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sudo-init-do/jobhub/internal/escrow"
	"github.com/sudo-init-do/jobhub/internal/money"
	"github.com/sudo-init-do/jobhub/internal/store"
)

const paymentColumns = `id, job_id, bid_id, poster_id, provider_id, amount, currency, status,
	authorization_ref, external_reference, transfer_ref, refund_ref, dispute_ref,
	released_amount, refunded_amount, fee_amount,
	release_reason, refund_reason, dispute_reason, dispute_evidence,
	release_date, created_at, updated_at`

func scanPayment(sc scanner) (escrow.Payment, error) {
	var (
		p                               escrow.Payment
		status, evidence                string
		amount, released, refunded, fee int64
		releaseDate                     sql.NullInt64
		created, updated                int64
	)
	err := sc.Scan(
		&p.ID, &p.JobID, &p.BidID, &p.PosterID, &p.ProviderID, &amount, &p.Currency, &status,
		&p.AuthorizationRef, &p.ExternalReference, &p.TransferRef, &p.RefundRef, &p.DisputeRef,
		&released, &refunded, &fee,
		&p.ReleaseReason, &p.RefundReason, &p.DisputeReason, &evidence,
		&releaseDate, &created, &updated,
	)
	if err != nil {
		return escrow.Payment{}, err
	}
	p.Status = escrow.Status(status)
	p.Amount = money.Amount(amount)
	p.ReleasedAmount = money.Amount(released)
	p.RefundedAmount = money.Amount(refunded)
	p.FeeAmount = money.Amount(fee)
	if evidence != "" {
		if err := json.Unmarshal([]byte(evidence), &p.DisputeEvidence); err != nil {
			return escrow.Payment{}, fmt.Errorf("decode dispute evidence: %w", err)
		}
	}
	p.ReleaseDate = fromNullTS(releaseDate)
	p.CreatedAt = fromTS(created)
	p.UpdatedAt = fromTS(updated)
	return p, nil
}

func encodeEvidence(ev []string) (string, error) {
	if ev == nil {
		ev = []string{}
	}
	b, err := json.Marshal(ev)
	return string(b), err
}

func (s *Store) InsertPayment(ctx context.Context, p escrow.Payment) error {
	evidence, err := encodeEvidence(p.DisputeEvidence)
	if err != nil {
		return fmt.Errorf("sqlite: insert payment: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.JobID, p.BidID, p.PosterID, p.ProviderID, int64(p.Amount), p.Currency, string(p.Status),
		p.AuthorizationRef, p.ExternalReference, p.TransferRef, p.RefundRef, p.DisputeRef,
		int64(p.ReleasedAmount), int64(p.RefundedAmount), int64(p.FeeAmount),
		p.ReleaseReason, p.RefundReason, p.DisputeReason, evidence,
		nullTS(p.ReleaseDate), ts(p.CreatedAt), ts(p.UpdatedAt),
	)
	if isDuplicate(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("sqlite: insert payment: %w", err)
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (escrow.Payment, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id))
	if err != nil {
		return escrow.Payment{}, notFound(err, "get payment")
	}
	return p, nil
}

func (s *Store) GetPaymentByBid(ctx context.Context, bidID string) (escrow.Payment, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE bid_id = ?`, bidID))
	if err != nil {
		return escrow.Payment{}, notFound(err, "get payment by bid")
	}
	return p, nil
}

func (s *Store) ListPayments(ctx context.Context, f escrow.Filter, p store.Page) ([]escrow.Payment, error) {
	var w where
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.JobID != "" {
		w.add("job_id = ?", f.JobID)
	}
	w.after(p.After)

	rows, err := s.db.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments`+w.String()+pageOrder, append(w.args, p.Limit)...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list payments: %w", err)
	}
	defer rows.Close()

	var out []escrow.Payment
	for rows.Next() {
		pay, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan payment: %w", err)
		}
		out = append(out, pay)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePayment(ctx context.Context, p escrow.Payment, from escrow.Status) (bool, error) {
	evidence, err := encodeEvidence(p.DisputeEvidence)
	if err != nil {
		return false, fmt.Errorf("sqlite: update payment: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE payments SET
			status = ?, authorization_ref = ?, external_reference = ?, transfer_ref = ?,
			refund_ref = ?, dispute_ref = ?, released_amount = ?, refunded_amount = ?,
			fee_amount = ?, release_reason = ?, refund_reason = ?, dispute_reason = ?,
			dispute_evidence = ?, release_date = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(p.Status), p.AuthorizationRef, p.ExternalReference, p.TransferRef,
		p.RefundRef, p.DisputeRef, int64(p.ReleasedAmount), int64(p.RefundedAmount),
		int64(p.FeeAmount), p.ReleaseReason, p.RefundReason, p.DisputeReason,
		evidence, nullTS(p.ReleaseDate), ts(p.UpdatedAt),
		p.ID, string(from),
	)
	return affected(res, err, "update payment")
}

// =========================
// Idempotency keys
// =========================

func (s *Store) ClaimIdempotencyKey(ctx context.Context, rec escrow.IdempotencyRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (scope, operation, idem_key, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (scope, operation, idem_key) DO NOTHING`,
		rec.Scope, rec.Operation, rec.Key, string(rec.State), ts(rec.CreatedAt), ts(rec.UpdatedAt),
	)
	return affected(res, err, "claim idempotency key")
}

func (s *Store) GetIdempotencyRecord(ctx context.Context, scope, op, key string) (escrow.IdempotencyRecord, error) {
	var (
		rec              escrow.IdempotencyRecord
		state            string
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT scope, operation, idem_key, state, response, error_code, error_message,
		        error_retryable, error_local_mutation, error_current, created_at, updated_at
		 FROM idempotency_keys WHERE scope = ? AND operation = ? AND idem_key = ?`,
		scope, op, key,
	).Scan(&rec.Scope, &rec.Operation, &rec.Key, &state, &rec.Response, &rec.ErrorCode, &rec.ErrorMessage,
		&rec.ErrorRetryable, &rec.ErrorLocalMutation, &rec.ErrorCurrent, &created, &updated)
	if err != nil {
		return escrow.IdempotencyRecord{}, notFound(err, "get idempotency key")
	}
	rec.State = escrow.IdempotencyState(state)
	rec.CreatedAt = fromTS(created)
	rec.UpdatedAt = fromTS(updated)
	return rec, nil
}

func (s *Store) TakeOverIdempotencyKey(ctx context.Context, scope, op, key string, staleBefore, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE idempotency_keys SET updated_at = ?
		 WHERE scope = ? AND operation = ? AND idem_key = ? AND state = 'pending' AND updated_at < ?`,
		ts(now), scope, op, key, ts(staleBefore),
	)
	return affected(res, err, "take over idempotency key")
}

func (s *Store) FinishIdempotencyKey(ctx context.Context, rec escrow.IdempotencyRecord) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE idempotency_keys SET state = ?, response = ?, error_code = ?, error_message = ?,
		        error_retryable = ?, error_local_mutation = ?, error_current = ?, updated_at = ?
		 WHERE scope = ? AND operation = ? AND idem_key = ?`,
		string(rec.State), rec.Response, rec.ErrorCode, rec.ErrorMessage,
		rec.ErrorRetryable, rec.ErrorLocalMutation, rec.ErrorCurrent, ts(rec.UpdatedAt),
		rec.Scope, rec.Operation, rec.Key,
	)
	if err != nil {
		return fmt.Errorf("sqlite: finish idempotency key: %w", err)
	}
	return nil
}

func (s *Store) DeleteIdempotencyKey(ctx context.Context, scope, op, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE scope = ? AND operation = ? AND idem_key = ? AND state = 'pending'`,
		scope, op, key,
	)
	if err != nil {
		return fmt.Errorf("sqlite: delete idempotency key: %w", err)
	}
	return nil
}
