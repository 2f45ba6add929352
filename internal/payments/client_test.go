package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sudo-init-do/jobhub/internal/escrow"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL + "/", APIKey: "sk_test", WebhookSecret: "whsec"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(Config{BaseURL: "http://x"}); err == nil {
		t.Fatal("expected error without api key")
	}
	if _, err := NewClient(Config{APIKey: "k"}); err == nil {
		t.Fatal("expected error without base url")
	}
}

func TestAuthorizeSendsHeaders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/authorizations" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test" {
			t.Errorf("authorization = %q", got)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "key-1" {
			t.Errorf("idempotency key = %q", got)
		}
		var req escrow.AuthorizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Amount != 5000 || req.PaymentID != "pay-1" {
			t.Errorf("request = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(escrow.Authorization{Reference: "auth_1", ClientSecret: "cs"})
	})

	auth, err := c.Authorize(context.Background(), escrow.AuthorizeRequest{PaymentID: "pay-1", Amount: 5000, Currency: "USD", IdempotencyKey: "key-1"})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if auth.Reference != "auth_1" || auth.ClientSecret != "cs" {
		t.Fatalf("authorization = %+v", auth)
	}
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		body      string
		retryable bool
		code      string
	}{
		{http.StatusTooManyRequests, "", true, "http_429"},
		{http.StatusBadGateway, "upstream", true, "http_502"},
		{http.StatusPaymentRequired, `{"error":{"code":"card_declined","message":"declined"}}`, false, "card_declined"},
		{http.StatusBadRequest, "", false, "http_400"},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		})
		_, err := c.Transfer(context.Background(), escrow.TransferRequest{PaymentID: "p", Amount: 1})
		var pe *escrow.ProcessorError
		if !errors.As(err, &pe) {
			t.Fatalf("status %d: err = %v", tc.status, err)
		}
		if pe.Retryable != tc.retryable || pe.Code != tc.code || pe.StatusCode != tc.status {
			t.Fatalf("status %d: got %+v", tc.status, pe)
		}
		if escrow.Retryable(err) != tc.retryable {
			t.Fatalf("status %d: Retryable mismatch", tc.status)
		}
	}
}

func TestConfirmCaptureChecksSignature(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/v1/authorizations/auth_1/capture" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(escrow.Capture{Reference: "ch_1", Amount: 5000, Currency: "USD"})
	})

	conf := escrow.CaptureConfirmation{Reference: "ch_1", Amount: 5000, Currency: "usd", Signature: "bogus"}
	_, err := c.ConfirmCapture(context.Background(), escrow.CaptureRequest{AuthorizationRef: "auth_1", Confirmation: conf})
	var pe *escrow.ProcessorError
	if !errors.As(err, &pe) || pe.Code != "invalid_signature" || pe.Retryable {
		t.Fatalf("err = %v", err)
	}
	if calls != 0 {
		t.Fatal("processor called with a forged confirmation")
	}

	conf.Signature = Sign("whsec", conf)
	capture, err := c.ConfirmCapture(context.Background(), escrow.CaptureRequest{AuthorizationRef: "auth_1", Confirmation: conf})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if capture.Amount != 5000 || calls != 1 {
		t.Fatalf("capture = %+v calls=%d", capture, calls)
	}
}

func TestVerifyWithoutSecret(t *testing.T) {
	if err := Verify("", escrow.CaptureConfirmation{Signature: "anything"}); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := Verify("s", escrow.CaptureConfirmation{Signature: "anything"}); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("verify = %v", err)
	}
}
