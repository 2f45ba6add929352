package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

// Enqueuer is the part of *asynq.Client the queue needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue hands events to the worker as asynq tasks.
type Queue struct {
	client     Enqueuer
	adminEmail string
	maxRetry   int
}

func NewQueue(client Enqueuer, adminEmail string) *Queue {
	return &Queue{client: client, adminEmail: adminEmail, maxRetry: 5}
}

func (q *Queue) Notify(ctx context.Context, ev Event) error {
	b, err := json.Marshal(NotifyPayload{Event: ev})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskType(ev.Type), b, asynq.MaxRetry(q.maxRetry))
	if _, err := q.client.EnqueueContext(ctx, task, asynq.Queue(QueueNotifications)); err != nil {
		return fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}

	severity, ok := adminSeverity(ev.Type)
	if !ok || q.adminEmail == "" {
		return nil
	}
	return q.enqueueAdminAlert(ctx, severity, ev)
}

func (q *Queue) enqueueAdminAlert(ctx context.Context, severity string, ev Event) error {
	env := EmailEnvelope{
		To:      q.adminEmail,
		Subject: fmt.Sprintf("[%s] %s", strings.ToUpper(severity), ev.Title),
		Body:    adminBody(ev),
	}
	payload := AdminAlertPayload{Severity: severity, Event: ev, Envelope: env, SentAt: time.Now().UTC()}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskAdminAlert, b, asynq.MaxRetry(q.maxRetry))
	if _, err := q.client.EnqueueContext(ctx, task, asynq.Queue(QueueAlerts)); err != nil {
		return fmt.Errorf("enqueue %s: %w", TaskAdminAlert, err)
	}
	return nil
}

func adminBody(ev Event) string {
	var sb strings.Builder
	sb.WriteString(ev.Message)
	sb.WriteString("\n\n")
	for _, kv := range [][2]string{{"Job", ev.JobID}, {"Bid", ev.BidID}, {"Payment", ev.PaymentID}} {
		if kv[1] != "" {
			fmt.Fprintf(&sb, "%s: %s\n", kv[0], kv[1])
		}
	}
	if ev.Amount != 0 {
		fmt.Fprintf(&sb, "Amount: %s\n", ev.Amount)
	}
	return sb.String()
}
