package alerts

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/jobhub/internal/apperr"
	"github.com/sudo-init-do/jobhub/internal/httpx"
	"github.com/sudo-init-do/jobhub/internal/store"
)

// HTTP serves the caller's in-app notifications.
type HTTP struct {
	store NotificationStore
	now   func() time.Time
}

func NewHTTP(s NotificationStore) *HTTP { return &HTTP{store: s, now: time.Now} }

// ListNotifications returns current user's notifications, newest first
func (h *HTTP) ListNotifications(c echo.Context) error {
	userID := httpx.UserID(c)
	if userID == "" {
		return httpx.Deny(c, http.StatusUnauthorized, "unauthorized")
	}
	page, err := httpx.PageFrom(c)
	if err != nil {
		return httpx.Fail(c, err)
	}
	items, err := h.store.ListNotifications(c.Request().Context(), userID, page)
	if err != nil {
		return httpx.Fail(c, apperr.Storage("list notifications", err))
	}
	var next *store.Cursor
	if len(items) == page.Limit {
		cur := items[len(items)-1].Cursor()
		next = &cur
	}
	return httpx.OK(c, http.StatusOK, httpx.NewList(items, next))
}

// MarkNotificationRead marks specific notification as read
func (h *HTTP) MarkNotificationRead(c echo.Context) error {
	userID := httpx.UserID(c)
	if userID == "" {
		return httpx.Deny(c, http.StatusUnauthorized, "unauthorized")
	}
	id := c.Param("id")
	ok, err := h.store.MarkNotificationRead(c.Request().Context(), id, userID, h.now().UTC())
	if err != nil {
		return httpx.Fail(c, apperr.Storage("mark notification read", err))
	}
	if !ok {
		return httpx.Fail(c, apperr.NotFound("unread notification", id))
	}
	return httpx.OK(c, http.StatusOK, echo.Map{"id": id, "read": true})
}
