package alerts_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/sudo-init-do/jobhub/internal/alerts"
	"github.com/sudo-init-do/jobhub/internal/store"
	"github.com/sudo-init-do/jobhub/internal/store/sqlite"
)

type enqueued struct {
	task  *asynq.Task
	queue string
}

type fakeEnqueuer struct {
	tasks []enqueued
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	e := enqueued{task: task}
	for _, o := range opts {
		if o.Type() == asynq.QueueOpt {
			e.queue, _ = o.Value().(string)
		}
	}
	f.tasks = append(f.tasks, e)
	return &asynq.TaskInfo{ID: "t", Queue: e.queue, Type: task.Type()}, nil
}

type mail struct{ to, subject, body string }

type fakeMailer struct {
	sent []mail
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, mail{to, subject, body})
	return nil
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "alerts.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestQueueRoutesEvents(t *testing.T) {
	ctx := context.Background()
	enq := &fakeEnqueuer{}
	q := alerts.NewQueue(enq, "ops@example.com")

	if err := q.Notify(ctx, alerts.Event{Type: alerts.EventBidAccepted, BidID: "b1", Recipients: []string{"u1"}, Title: "Bid accepted"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(enq.tasks) != 1 {
		t.Fatalf("tasks = %d", len(enq.tasks))
	}
	if got := enq.tasks[0]; got.task.Type() != "notify:bid.accepted" || got.queue != alerts.QueueNotifications {
		t.Fatalf("task = %s on %s", got.task.Type(), got.queue)
	}
	var p alerts.NotifyPayload
	if err := json.Unmarshal(enq.tasks[0].task.Payload(), &p); err != nil || p.Event.BidID != "b1" {
		t.Fatalf("payload = %+v err=%v", p, err)
	}

	if err := q.Notify(ctx, alerts.Event{Type: alerts.EventReconcileNeeded, PaymentID: "p1", Title: "Payment needs reconciliation", Amount: 1250}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(enq.tasks) != 3 {
		t.Fatalf("tasks = %d", len(enq.tasks))
	}
	alert := enq.tasks[2]
	if alert.task.Type() != alerts.TaskAdminAlert || alert.queue != alerts.QueueAlerts {
		t.Fatalf("alert = %s on %s", alert.task.Type(), alert.queue)
	}
	var ap alerts.AdminAlertPayload
	if err := json.Unmarshal(alert.task.Payload(), &ap); err != nil {
		t.Fatal(err)
	}
	if ap.Severity != alerts.SeverityCritical || ap.Envelope.To != "ops@example.com" || ap.Envelope.Subject != "[CRITICAL] Payment needs reconciliation" {
		t.Fatalf("alert payload = %+v", ap)
	}
}

func TestQueueSkipsAdminAlertWithoutAddress(t *testing.T) {
	enq := &fakeEnqueuer{}
	q := alerts.NewQueue(enq, "")
	if err := q.Notify(context.Background(), alerts.Event{Type: alerts.EventDisputeOpened}); err != nil {
		t.Fatal(err)
	}
	if len(enq.tasks) != 1 {
		t.Fatalf("tasks = %d", len(enq.tasks))
	}
}

func TestQueueReportsEnqueueFailure(t *testing.T) {
	q := alerts.NewQueue(&fakeEnqueuer{err: errors.New("redis down")}, "")
	if err := q.Notify(context.Background(), alerts.Event{Type: alerts.EventBidSubmitted}); err == nil {
		t.Fatal("expected error")
	}
}

func TestHandleNotifyWritesOnePerRecipient(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	h := alerts.NewHandlers(s, &fakeMailer{})

	ev := alerts.Event{Type: alerts.EventPaymentHeld, JobID: "j1", PaymentID: "p1", Recipients: []string{"u1", "u2", "u1", ""}, Title: "Funds held", Message: "in escrow"}
	b, _ := json.Marshal(alerts.NotifyPayload{Event: ev})
	if err := h.HandleNotify(ctx, asynq.NewTask(alerts.TaskType(ev.Type), b)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	for _, uid := range []string{"u1", "u2"} {
		got, err := s.ListNotifications(ctx, uid, store.Page{Limit: 10})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 {
			t.Fatalf("%s has %d notifications", uid, len(got))
		}
		if got[0].Reference != "p1" || got[0].Title != "Funds held" || got[0].Body != "in escrow" {
			t.Fatalf("notification = %+v", got[0])
		}
	}
}

func TestHandleNotifySkipsRetryOnBadPayload(t *testing.T) {
	h := alerts.NewHandlers(openStore(t), &fakeMailer{})
	err := h.HandleNotify(context.Background(), asynq.NewTask("notify:x", []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("err = %v", err)
	}
}

func TestHandleAdminAlertSendsMail(t *testing.T) {
	m := &fakeMailer{}
	h := alerts.NewHandlers(openStore(t), m)
	b, _ := json.Marshal(alerts.AdminAlertPayload{
		Severity: alerts.SeverityWarning,
		Envelope: alerts.EmailEnvelope{To: "ops@example.com", Subject: "dispute", Body: "look"},
	})
	if err := h.HandleAdminAlert(context.Background(), asynq.NewTask(alerts.TaskAdminAlert, b)); err != nil {
		t.Fatal(err)
	}
	if len(m.sent) != 1 || m.sent[0].to != "ops@example.com" {
		t.Fatalf("sent = %+v", m.sent)
	}

	m.err = errors.New("smtp down")
	if err := h.HandleAdminAlert(context.Background(), asynq.NewTask(alerts.TaskAdminAlert, b)); err == nil {
		t.Fatal("expected mail error to surface for retry")
	}
}
