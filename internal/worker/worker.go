// Package worker runs the background side of jobhub: notification fan-out, admin alert mail and
// the periodic bid reconciliation sweep.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sudo-init-do/jobhub/internal/alerts"
)

const (
	QueueMaintenance  = "maintenance"
	TaskReconcileBids = "maintenance:reconcile_bids"
)

// Queues weights the queues the server pulls from.
func Queues() map[string]int {
	return map[string]int{
		alerts.QueueNotifications: 10,
		alerts.QueueAlerts:        5,
		QueueMaintenance:          1,
	}
}

type Sweeper interface {
	SweepDecided(ctx context.Context) (int, error)
}

type Maintenance struct {
	sweeper Sweeper
	logger  *slog.Logger
}

func NewMaintenance(s Sweeper, logger *slog.Logger) *Maintenance {
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintenance{sweeper: s, logger: logger}
}

// HandleReconcileBids rejects pending bids left on jobs that no longer take them.
func (m *Maintenance) HandleReconcileBids(ctx context.Context, _ *asynq.Task) error {
	n, err := m.sweeper.SweepDecided(ctx)
	if err != nil {
		return fmt.Errorf("sweep decided jobs: %w", err)
	}
	m.logger.Info("reconcile sweep finished", "rejected", n)
	return nil
}

func NewMux(h *alerts.Handlers, m *Maintenance) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	h.Register(mux)
	mux.HandleFunc(TaskReconcileBids, m.HandleReconcileBids)
	return mux
}

// Worker owns the asynq server and the scheduler that feeds the maintenance queue.
type Worker struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	logger    *slog.Logger
}

func New(redisAddr string, interval time.Duration, mux *asynq.ServeMux, logger *slog.Logger) (*Worker, error) {
	opt := asynq.RedisClientOpt{Addr: redisAddr}
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: 5,
		Queues:      Queues(),
	})
	scheduler := asynq.NewScheduler(opt, nil)
	spec := "@every " + interval.String()
	if _, err := scheduler.Register(spec, asynq.NewTask(TaskReconcileBids, nil),
		asynq.Queue(QueueMaintenance), asynq.MaxRetry(1), asynq.Timeout(interval)); err != nil {
		return nil, fmt.Errorf("schedule %s: %w", TaskReconcileBids, err)
	}
	return &Worker{server: server, scheduler: scheduler, mux: mux, logger: logger}, nil
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	if err := w.scheduler.Start(); err != nil {
		w.server.Shutdown()
		return fmt.Errorf("start scheduler: %w", err)
	}
	w.logger.Info("worker started", "queues", Queues())

	<-ctx.Done()
	w.scheduler.Shutdown()
	w.server.Shutdown()
	w.logger.Info("worker stopped")
	return nil
}
