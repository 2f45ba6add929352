package payments

import (
	"context"
	"testing"

	"github.com/sudo-init-do/jobhub/internal/escrow"
)

func TestSandboxFlow(t *testing.T) {
	ctx := context.Background()
	s := NewSandbox("secret")

	auth, err := s.Authorize(ctx, escrow.AuthorizeRequest{PaymentID: "p1", Amount: 2500, Currency: "usd", IdempotencyKey: "k1"})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	again, _ := s.Authorize(ctx, escrow.AuthorizeRequest{PaymentID: "p1", Amount: 2500, Currency: "usd", IdempotencyKey: "k1"})
	if again.Reference != auth.Reference {
		t.Fatalf("same key gave %s and %s", auth.Reference, again.Reference)
	}

	conf, err := s.Confirm(auth.Reference)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if conf.Amount != 2500 || conf.Currency != "USD" {
		t.Fatalf("confirmation = %+v", conf)
	}
	capture, err := s.ConfirmCapture(ctx, escrow.CaptureRequest{AuthorizationRef: auth.Reference, Confirmation: conf})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if capture.Amount != 2500 {
		t.Fatalf("capture = %+v", capture)
	}

	forged := conf
	forged.Amount = 1
	if _, err := s.ConfirmCapture(ctx, escrow.CaptureRequest{AuthorizationRef: auth.Reference, Confirmation: forged}); err == nil {
		t.Fatal("forged confirmation accepted")
	}

	r1, _ := s.Transfer(ctx, escrow.TransferRequest{IdempotencyKey: "t1"})
	r2, _ := s.Transfer(ctx, escrow.TransferRequest{IdempotencyKey: "t1"})
	r3, _ := s.Transfer(ctx, escrow.TransferRequest{IdempotencyKey: "t2"})
	if r1.Reference != r2.Reference || r1.Reference == r3.Reference {
		t.Fatalf("transfer refs %s %s %s", r1.Reference, r2.Reference, r3.Reference)
	}
}

func TestSandboxUnknownAuthorization(t *testing.T) {
	s := NewSandbox("")
	if _, err := s.Confirm("auth_missing"); err == nil {
		t.Fatal("expected error")
	}
	_, err := s.ConfirmCapture(context.Background(), escrow.CaptureRequest{AuthorizationRef: "auth_missing"})
	if err == nil || escrow.Retryable(err) {
		t.Fatalf("err = %v", err)
	}
}
