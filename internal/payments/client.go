// Package payments talks to the payment processor: an HTTP client for the hosted API and an
// in-process sandbox for local runs.
package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sudo-init-do/jobhub/internal/escrow"
)

var _ escrow.Processor = (*Client)(nil)

var ErrBadSignature = errors.New("payments: capture confirmation signature mismatch")

type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	HTTPClient    *http.Client
}

// Client calls the processor's REST API with a bearer API key.
type Client struct {
	base   string
	apiKey string
	secret string
	http   *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("payments not configured: set PAYMENT_API_KEY")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("payments not configured: set PAYMENT_API_URL")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey: cfg.APIKey,
		secret: cfg.WebhookSecret,
		http:   hc,
	}, nil
}

// Sign computes the signature the processor attaches to a capture confirmation.
func Sign(secret string, c escrow.CaptureConfirmation) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(c.Reference + "|" + strconv.FormatInt(int64(c.Amount), 10) + "|" + strings.ToUpper(c.Currency)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a confirmation's signature. An empty secret disables the check.
func Verify(secret string, c escrow.CaptureConfirmation) error {
	if secret == "" {
		return nil
	}
	if !hmac.Equal([]byte(Sign(secret, c)), []byte(c.Signature)) {
		return ErrBadSignature
	}
	return nil
}

func (c *Client) Authorize(ctx context.Context, req escrow.AuthorizeRequest) (escrow.Authorization, error) {
	var out escrow.Authorization
	err := c.post(ctx, "authorize", "/v1/authorizations", req.IdempotencyKey, req, &out)
	return out, err
}

func (c *Client) ConfirmCapture(ctx context.Context, req escrow.CaptureRequest) (escrow.Capture, error) {
	if err := Verify(c.secret, req.Confirmation); err != nil {
		return escrow.Capture{}, &escrow.ProcessorError{Op: "capture", Code: "invalid_signature", Message: err.Error(), StatusCode: http.StatusBadRequest}
	}
	var out escrow.Capture
	path := "/v1/authorizations/" + url.PathEscape(req.AuthorizationRef) + "/capture"
	err := c.post(ctx, "capture", path, req.IdempotencyKey, req, &out)
	return out, err
}

func (c *Client) Transfer(ctx context.Context, req escrow.TransferRequest) (escrow.Receipt, error) {
	var out escrow.Receipt
	err := c.post(ctx, "transfer", "/v1/transfers", req.IdempotencyKey, req, &out)
	return out, err
}

func (c *Client) Refund(ctx context.Context, req escrow.RefundRequest) (escrow.Receipt, error) {
	var out escrow.Receipt
	err := c.post(ctx, "refund", "/v1/refunds", req.IdempotencyKey, req, &out)
	return out, err
}

func (c *Client) OpenDispute(ctx context.Context, req escrow.DisputeRequest) (escrow.Receipt, error) {
	var out escrow.Receipt
	err := c.post(ctx, "dispute", "/v1/disputes", req.IdempotencyKey, req, &out)
	return out, err
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// post performs the HTTP request and decodes a 2xx body into out. Rate limiting and server errors
// come back as retryable ProcessorErrors, other statuses as terminal ones.
func (c *Client) post(ctx context.Context, op, path, idempotencyKey string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		pe := &escrow.ProcessorError{
			Op:         op,
			Code:       "http_" + strconv.Itoa(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Retryable:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
		var ae apiError
		if json.Unmarshal(raw, &ae) == nil && ae.Error.Code != "" {
			pe.Code = ae.Error.Code
			pe.Message = ae.Error.Message
		} else if len(raw) > 0 {
			pe.Message = string(raw)
		}
		return pe
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("processor %s: decode response: %w", op, err)
	}
	return nil
}
