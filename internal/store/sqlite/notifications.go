package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sudo-init-do/jobhub/internal/alerts"
	"github.com/sudo-init-do/jobhub/internal/store"
)

func (s *Store) CreateNotification(ctx context.Context, n alerts.Notification) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, type, title, body, reference, created_at, read_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Type, n.Title, n.Body, n.Reference, ts(n.CreatedAt), nullTS(n.ReadAt),
	)
	if isDuplicate(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("sqlite: create notification: %w", err)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string, p store.Page) ([]alerts.Notification, error) {
	var w where
	w.add("user_id = ?", userID)
	w.after(p.After)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, type, title, body, reference, created_at, read_at FROM notifications`+w.String()+pageOrder,
		append(w.args, p.Limit)...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list notifications: %w", err)
	}
	defer rows.Close()

	var out []alerts.Notification
	for rows.Next() {
		var (
			n       alerts.Notification
			created int64
			readAt  sql.NullInt64
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &n.Reference, &created, &readAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan notification: %w", err)
		}
		n.CreatedAt = fromTS(created)
		n.ReadAt = fromNullTS(readAt)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) MarkNotificationRead(ctx context.Context, id, userID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read_at = ? WHERE id = ? AND user_id = ? AND read_at IS NULL`,
		ts(now), id, userID,
	)
	return affected(res, err, "mark notification read")
}
