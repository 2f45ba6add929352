// Package app assembles the engines, stores and side channels from a Config. The API server,
// the worker and jobhubctl all start from here.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/sudo-init-do/jobhub/internal/admin"
	"github.com/sudo-init-do/jobhub/internal/alerts"
	"github.com/sudo-init-do/jobhub/internal/bids"
	"github.com/sudo-init-do/jobhub/internal/config"
	"github.com/sudo-init-do/jobhub/internal/db"
	"github.com/sudo-init-do/jobhub/internal/escrow"
	"github.com/sudo-init-do/jobhub/internal/jobs"
	"github.com/sudo-init-do/jobhub/internal/payments"
	"github.com/sudo-init-do/jobhub/internal/progress"
	"github.com/sudo-init-do/jobhub/internal/realtime"
	"github.com/sudo-init-do/jobhub/internal/store/postgres"
	"github.com/sudo-init-do/jobhub/internal/store/sqlite"
)

// Store is everything the engines and handlers need from persistence.
type Store interface {
	jobs.Store
	bids.Store
	escrow.Store
	progress.Store
	alerts.NotificationStore
	admin.Store
	Ping(ctx context.Context) error
	Close() error
}

type App struct {
	Config config.Config
	Logger *slog.Logger
	Store  Store

	Jobs     *jobs.Registry
	Bids     *bids.Ledger
	Escrow   *escrow.Coordinator
	Progress *progress.Log
	Hub      *realtime.Hub
	Mailer   alerts.Mailer

	queue *asynq.Client
}

// OpenStore connects the configured driver and brings its schema up to date.
func OpenStore(ctx context.Context, cfg config.DB, logger *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		pool, err := db.Connect(ctx, db.DSN(cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name, cfg.SSLMode))
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, err
		}
		return postgres.New(pool), nil
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.Driver)
	}
}

// NewProcessor picks the payment processor binding.
func NewProcessor(cfg config.Payment) (escrow.Processor, error) {
	switch cfg.Provider {
	case "http":
		c, err := payments.NewClient(payments.Config{
			BaseURL:       cfg.APIURL,
			APIKey:        cfg.APIKey,
			WebhookSecret: cfg.WebhookSecret,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case "sandbox", "":
		return payments.NewSandbox(cfg.WebhookSecret), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}

// NewMailer falls back to logging when no provider is configured.
func NewMailer(cfg config.Mail, logger *slog.Logger) alerts.Mailer {
	m, err := alerts.NewMailer(cfg.Provider,
		alerts.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			ReplyTo:  cfg.ReplyTo,
		},
		alerts.PlunkConfig{
			APIKey:  cfg.PlunkAPIKey,
			From:    cfg.PlunkFrom,
			APIURL:  cfg.PlunkAPIURL,
			ReplyTo: cfg.ReplyTo,
		})
	if err != nil {
		logger.Warn("mail disabled, logging messages instead", "error", err)
		return alerts.LogMailer{Logger: logger}
	}
	return m
}

// New wires a ready App. Close releases the store and the queue client.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	s, err := OpenStore(ctx, cfg.DB, logger)
	if err != nil {
		return nil, err
	}
	a, err := Assemble(cfg, logger, s, asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr}))
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return a, nil
}

// Assemble builds the engines over an open store. A nil queue keeps notifications in-process.
func Assemble(cfg config.Config, logger *slog.Logger, s Store, queue *asynq.Client) (*App, error) {
	processor, err := NewProcessor(cfg.Payment)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger, Store: s, queue: queue}
	a.Jobs = jobs.NewRegistry(s, jobs.WithLogger(logger))
	a.Hub = realtime.NewHub(a.Jobs, s, logger)

	notifier := alerts.Multi{a.Hub}
	if queue != nil {
		notifier = append(notifier, alerts.NewQueue(queue, cfg.AdminEmail))
	}

	a.Bids = bids.NewLedger(s, a.Jobs,
		bids.WithLogger(logger),
		bids.WithNotifier(notifier),
		bids.WithRetry(cfg.Payment.MaxAttempts, cfg.Payment.Backoff),
	)
	a.Escrow = escrow.NewCoordinator(s, a.Jobs, a.Bids, processor,
		escrow.WithLogger(logger),
		escrow.WithNotifier(notifier),
		escrow.WithCallTimeout(cfg.Payment.Timeout),
		escrow.WithRetry(cfg.Payment.MaxAttempts, cfg.Payment.Backoff),
		escrow.WithFeeBasisPoints(cfg.Payment.FeeBPS),
		escrow.WithDefaultCurrency(cfg.Payment.Currency),
	)
	a.Progress = progress.NewLog(s, a.Jobs, a.Bids,
		progress.WithLogger(logger),
		progress.WithNotifier(notifier),
	)
	a.Mailer = NewMailer(cfg.Mail, logger)
	return a, nil
}

// Queue returns the task client, nil when notifications stay in-process.
func (a *App) Queue() *asynq.Client { return a.queue }

func (a *App) Close() error {
	if a.queue != nil {
		_ = a.queue.Close()
	}
	return a.Store.Close()
}
