package payments

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/sudo-init-do/jobhub/internal/escrow"
	"github.com/sudo-init-do/jobhub/internal/money"
)

var _ escrow.Processor = (*Sandbox)(nil)

type authorization struct {
	amount   money.Amount
	currency string
	captured bool
}

// Sandbox is an in-process processor that approves everything. Repeated idempotency keys return
// the first reference, the way the hosted API does.
type Sandbox struct {
	secret string

	mu    sync.Mutex
	auths map[string]*authorization
	keys  map[string]string
}

func NewSandbox(secret string) *Sandbox {
	return &Sandbox{secret: secret, auths: map[string]*authorization{}, keys: map[string]string{}}
}

// Confirm produces the signed confirmation a client would receive after completing authorization.
func (s *Sandbox) Confirm(authRef string) (escrow.CaptureConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auths[authRef]
	if !ok {
		return escrow.CaptureConfirmation{}, fmt.Errorf("sandbox: unknown authorization %s", authRef)
	}
	c := escrow.CaptureConfirmation{Reference: "ch_" + strings.TrimPrefix(authRef, "auth_"), Amount: a.amount, Currency: a.currency}
	c.Signature = Sign(s.secret, c)
	return c, nil
}

func (s *Sandbox) reference(key, prefix string) string {
	if ref, ok := s.keys[key]; ok && key != "" {
		return ref
	}
	ref := prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	if key != "" {
		s.keys[key] = ref
	}
	return ref
}

func (s *Sandbox) Authorize(_ context.Context, req escrow.AuthorizeRequest) (escrow.Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := s.reference(req.IdempotencyKey, "auth_")
	if _, ok := s.auths[ref]; !ok {
		s.auths[ref] = &authorization{amount: req.Amount, currency: strings.ToUpper(req.Currency)}
	}
	return escrow.Authorization{Reference: ref, ClientSecret: ref + "_secret"}, nil
}

func (s *Sandbox) ConfirmCapture(_ context.Context, req escrow.CaptureRequest) (escrow.Capture, error) {
	if err := Verify(s.secret, req.Confirmation); err != nil {
		return escrow.Capture{}, &escrow.ProcessorError{Op: "capture", Code: "invalid_signature", Message: err.Error(), StatusCode: 400}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auths[req.AuthorizationRef]
	if !ok {
		return escrow.Capture{}, &escrow.ProcessorError{Op: "capture", Code: "unknown_authorization", StatusCode: 404}
	}
	a.captured = true
	return escrow.Capture{Reference: req.Confirmation.Reference, Amount: a.amount, Currency: a.currency}, nil
}

func (s *Sandbox) Transfer(_ context.Context, req escrow.TransferRequest) (escrow.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return escrow.Receipt{Reference: s.reference(req.IdempotencyKey, "tr_")}, nil
}

func (s *Sandbox) Refund(_ context.Context, req escrow.RefundRequest) (escrow.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return escrow.Receipt{Reference: s.reference(req.IdempotencyKey, "re_")}, nil
}

func (s *Sandbox) OpenDispute(_ context.Context, req escrow.DisputeRequest) (escrow.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return escrow.Receipt{Reference: s.reference(req.IdempotencyKey, "dp_")}, nil
}
