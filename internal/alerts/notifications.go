package alerts

import (
	"context"
	"time"

	"github.com/sudo-init-do/jobhub/internal/store"
)

// Notification is an in-app message for one user.
type Notification struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Reference string     `json:"reference"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at"`
}

func (n Notification) Cursor() store.Cursor { return store.Cursor{CreatedAt: n.CreatedAt, ID: n.ID} }

type NotificationStore interface {
	CreateNotification(ctx context.Context, n Notification) error
	// ListNotifications returns a page of the user's notifications, newest first.
	ListNotifications(ctx context.Context, userID string, p store.Page) ([]Notification, error)
	// MarkNotificationRead stamps an unread notification owned by userID.
	MarkNotificationRead(ctx context.Context, id, userID string, now time.Time) (bool, error)
}
