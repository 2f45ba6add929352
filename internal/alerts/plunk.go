package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const defaultPlunkURL = "https://api.useplunk.com/v1/send"

type PlunkConfig struct {
	APIKey     string
	From       string
	APIURL     string
	ReplyTo    string
	HTTPClient *http.Client
}

// Plunk sends mail through the Plunk HTTP API.
type Plunk struct {
	cfg PlunkConfig
}

func NewPlunk(cfg PlunkConfig) (*Plunk, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("plunk not configured: set PLUNK_API_KEY")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultPlunkURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Plunk{cfg: cfg}, nil
}

type plunkSendBody struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	From    string `json:"from,omitempty"`
	Reply   string `json:"reply,omitempty"`
}

func (p *Plunk) Send(ctx context.Context, to, subject, body string) error {
	b, err := json.Marshal(plunkSendBody{To: to, Subject: subject, Body: body, From: p.cfg.From, Reply: p.cfg.ReplyTo})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.APIURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if raw, readErr := io.ReadAll(resp.Body); readErr == nil && len(raw) > 0 {
			return fmt.Errorf("plunk send failed: status=%d body=%s", resp.StatusCode, raw)
		}
		return fmt.Errorf("plunk send failed: status=%d", resp.StatusCode)
	}
	return nil
}
