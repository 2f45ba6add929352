package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/sudo-init-do/jobhub/internal/alerts"
	"github.com/sudo-init-do/jobhub/internal/store"
)

func (s *Store) CreateNotification(ctx context.Context, n alerts.Notification) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notifications (id, user_id, type, title, body, reference, created_at, read_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.UserID, n.Type, n.Title, n.Body, n.Reference, n.CreatedAt, n.ReadAt,
	)
	if isDuplicate(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("postgres: create notification: %w", err)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string, p store.Page) ([]alerts.Notification, error) {
	var w where
	w.eq("user_id", userID)
	w.after(p.After)
	q := `SELECT id, user_id, type, title, body, reference, created_at, read_at FROM notifications` + w.page(p.Limit)

	rows, err := s.pool.Query(ctx, q, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list notifications: %w", err)
	}
	defer rows.Close()

	var out []alerts.Notification
	for rows.Next() {
		var n alerts.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &n.Reference, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, fmt.Errorf("postgres: scan notification: %w", err)
		}
		n.CreatedAt = utc(n.CreatedAt)
		n.ReadAt = utcPtr(n.ReadAt)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) MarkNotificationRead(ctx context.Context, id, userID string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET read_at = $1 WHERE id = $2 AND user_id = $3 AND read_at IS NULL`,
		now, id, userID,
	)
	return affected(tag, err, "mark notification read")
}
