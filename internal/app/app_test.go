package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/sudo-init-do/jobhub/internal/bids"
	"github.com/sudo-init-do/jobhub/internal/config"
	"github.com/sudo-init-do/jobhub/internal/escrow"
	"github.com/sudo-init-do/jobhub/internal/jobs"
	"github.com/sudo-init-do/jobhub/internal/payments"
)

func testConfig(t *testing.T) config.Config {
	return config.Config{
		DB: config.DB{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "app.db")},
		Payment: config.Payment{
			Provider:    "sandbox",
			MaxAttempts: 2,
			Currency:    "EUR",
			FeeBPS:      250,
		},
	}
}

func TestNewProcessor(t *testing.T) {
	p, err := NewProcessor(config.Payment{Provider: "sandbox"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*payments.Sandbox); !ok {
		t.Fatalf("got %T", p)
	}
	if _, err := NewProcessor(config.Payment{Provider: "http"}); err == nil {
		t.Fatal("http provider without credentials accepted")
	}
	p, err = NewProcessor(config.Payment{Provider: "http", APIURL: "https://pay.example", APIKey: "sk"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*payments.Client); !ok {
		t.Fatalf("got %T", p)
	}
	if _, err := NewProcessor(config.Payment{Provider: "carrier-pigeon"}); err == nil {
		t.Fatal("unknown provider accepted")
	}
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	if _, err := OpenStore(context.Background(), config.DB{Driver: "mongo"}, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewMailerFallsBackToLog(t *testing.T) {
	m := NewMailer(config.Mail{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if m == nil {
		t.Fatal("nil mailer")
	}
}

func TestAssembleRunsAcceptance(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig(t)

	s, err := OpenStore(ctx, cfg.DB, logger)
	if err != nil {
		t.Fatal(err)
	}
	a, err := Assemble(cfg, logger, s, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	job, err := a.Jobs.CreateJob(ctx, jobs.CreateParams{Title: "Paint fence", Description: "two coats", ServiceType: "painting", PostedBy: "poster"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := a.Bids.SubmitBid(ctx, bids.SubmitParams{JobID: job.ID, BidderID: "painter", Amount: 40000})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Bids.AcceptBid(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	res, err := a.Escrow.Authorize(ctx, escrow.AuthorizeParams{BidID: b.ID})
	if err != nil {
		t.Fatal(err)
	}
	if res.Payment.Currency != "EUR" || res.Payment.Amount != 40000 {
		t.Fatalf("payment = %+v", res.Payment)
	}
	if a.Queue() != nil {
		t.Fatal("queue should be nil")
	}
}
