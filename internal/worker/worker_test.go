package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/sudo-init-do/jobhub/internal/alerts"
	"github.com/sudo-init-do/jobhub/internal/bids"
	"github.com/sudo-init-do/jobhub/internal/jobs"
	"github.com/sudo-init-do/jobhub/internal/store/sqlite"
	"github.com/sudo-init-do/jobhub/internal/worker"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestReconcileTaskRejectsStaleBids(t *testing.T) {
	ctx := context.Background()
	s, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "worker.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	registry := jobs.NewRegistry(s)
	ledger := bids.NewLedger(s, registry)
	job, err := registry.CreateJob(ctx, jobs.CreateParams{Title: "Fix tap", Description: "drip", ServiceType: "plumbing", PostedBy: "poster"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := ledger.SubmitBid(ctx, bids.SubmitParams{JobID: job.ID, BidderID: "plumber", Amount: 900})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := registry.CancelJob(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	mux := worker.NewMux(alerts.NewHandlers(s, alerts.LogMailer{Logger: discard}), worker.NewMaintenance(ledger, discard))
	if err := mux.ProcessTask(ctx, asynq.NewTask(worker.TaskReconcileBids, nil)); err != nil {
		t.Fatal(err)
	}
	got, err := ledger.GetBid(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != bids.StatusRejected {
		t.Fatalf("status = %s, want rejected", got.Status)
	}
}

type failingSweeper struct{}

func (failingSweeper) SweepDecided(context.Context) (int, error) { return 0, errors.New("db gone") }

func TestReconcileTaskSurfacesErrors(t *testing.T) {
	m := worker.NewMaintenance(failingSweeper{}, discard)
	if err := m.HandleReconcileBids(context.Background(), asynq.NewTask(worker.TaskReconcileBids, nil)); err == nil {
		t.Fatal("expected error so the task is retried")
	}
}

func TestQueuesCoverEveryProducer(t *testing.T) {
	q := worker.Queues()
	for _, name := range []string{alerts.QueueNotifications, alerts.QueueAlerts, worker.QueueMaintenance} {
		if q[name] == 0 {
			t.Errorf("queue %q not served", name)
		}
	}
}
