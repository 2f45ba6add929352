package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/sudo-init-do/jobhub/internal/store"
)

type HandlerOption func(*Handlers)

func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *Handlers) { h.logger = l }
}

func WithHandlerClock(now func() time.Time) HandlerOption {
	return func(h *Handlers) { h.now = now }
}

// Handlers consume the notification and alert queues.
type Handlers struct {
	store  NotificationStore
	mailer Mailer
	logger *slog.Logger
	now    func() time.Time
}

func NewHandlers(s NotificationStore, m Mailer, opts ...HandlerOption) *Handlers {
	h := &Handlers{store: s, mailer: m, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskNotifyPrefix, h.HandleNotify)
	mux.HandleFunc(TaskAdminAlert, h.HandleAdminAlert)
}

// HandleNotify stores one in-app notification per recipient. Notification ids derive from the
// task id so a retried task does not duplicate rows.
func (h *Handlers) HandleNotify(ctx context.Context, t *asynq.Task) error {
	var p NotifyPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	ev := p.Event
	taskID, _ := asynq.GetTaskID(ctx)
	now := h.now().UTC()

	seen := map[string]bool{}
	for _, uid := range ev.Recipients {
		if uid == "" || seen[uid] {
			continue
		}
		seen[uid] = true
		n := Notification{
			ID:        notificationID(taskID, uid),
			UserID:    uid,
			Type:      ev.Type,
			Title:     ev.Title,
			Body:      ev.Message,
			Reference: reference(ev),
			CreatedAt: now,
		}
		if err := h.store.CreateNotification(ctx, n); err != nil && !errors.Is(err, store.ErrDuplicate) {
			h.logger.Error("notification write failed", "type", ev.Type, "user_id", uid, "err", err)
			return err
		}
	}
	h.logger.Info("notified", "type", ev.Type, "recipients", len(seen))
	return nil
}

func (h *Handlers) HandleAdminAlert(ctx context.Context, t *asynq.Task) error {
	var p AdminAlertPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	if err := h.mailer.Send(ctx, p.Envelope.To, p.Envelope.Subject, p.Envelope.Body); err != nil {
		h.logger.Error("admin alert send failed", "severity", p.Severity, "type", p.Event.Type, "err", err)
		return err
	}
	h.logger.Info("admin alert sent", "severity", p.Severity, "type", p.Event.Type, "payment_id", p.Event.PaymentID)
	return nil
}

func notificationID(taskID, userID string) string {
	if taskID == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(taskID+"/"+userID)).String()
}

// reference points at the most specific record an event is about.
func reference(ev Event) string {
	switch {
	case ev.PaymentID != "":
		return ev.PaymentID
	case ev.BidID != "":
		return ev.BidID
	default:
		return ev.JobID
	}
}
