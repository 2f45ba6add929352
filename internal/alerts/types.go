package alerts

import "time"

// Queues and task types.
const (
	QueueNotifications = "notifications"
	QueueAlerts        = "alerts"

	// TaskNotifyPrefix is followed by the event type, e.g. "notify:bid.accepted".
	TaskNotifyPrefix = "notify:"
	TaskAdminAlert   = "alert:admin"
)

const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

func TaskType(eventType string) string { return TaskNotifyPrefix + eventType }

// adminSeverity reports whether an event type warrants an e-mail to the operators.
func adminSeverity(eventType string) (string, bool) {
	switch eventType {
	case EventDisputeOpened:
		return SeverityWarning, true
	case EventReconcileNeeded:
		return SeverityCritical, true
	}
	return "", false
}

// Common envelope for email-like notifications
type EmailEnvelope struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type NotifyPayload struct {
	Event Event `json:"event"`
}

type AdminAlertPayload struct {
	Severity string        `json:"severity"` // warning|critical
	Event    Event         `json:"event"`
	Envelope EmailEnvelope `json:"envelope"`
	SentAt   time.Time     `json:"sent_at"`
}
