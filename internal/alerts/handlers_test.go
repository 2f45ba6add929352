package alerts_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/jobhub/internal/alerts"
	"github.com/sudo-init-do/jobhub/internal/httpx"
)

func serve(h echo.HandlerFunc, method, target, userID string, params ...string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if userID != "" {
		c.Set(httpx.KeyUserID, userID)
	}
	for i := 0; i+1 < len(params); i += 2 {
		c.SetParamNames(params[i])
		c.SetParamValues(params[i+1])
	}
	_ = h(c)
	return rec
}

func TestNotificationEndpoints(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"n1", "n2", "n3"} {
		n := alerts.Notification{ID: id, UserID: "u1", Type: alerts.EventBidSubmitted, Title: "New bid", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.CreateNotification(ctx, n); err != nil {
			t.Fatal(err)
		}
	}
	h := alerts.NewHTTP(s)

	rec := serve(h.ListNotifications, http.MethodGet, "/notifications?limit=2", "u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d body=%s", rec.Code, rec.Body)
	}
	var page struct {
		Success bool `json:"success"`
		Data    struct {
			Items      []alerts.Notification `json:"items"`
			NextCursor string                `json:"next_cursor"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if !page.Success || len(page.Data.Items) != 2 || page.Data.Items[0].ID != "n3" || page.Data.NextCursor == "" {
		t.Fatalf("page = %+v", page)
	}

	rec = serve(h.MarkNotificationRead, http.MethodPost, "/notifications/n1/read", "u1", "id", "n1")
	if rec.Code != http.StatusOK {
		t.Fatalf("mark status = %d body=%s", rec.Code, rec.Body)
	}
	rec = serve(h.MarkNotificationRead, http.MethodPost, "/notifications/n1/read", "u1", "id", "n1")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second mark status = %d", rec.Code)
	}
	rec = serve(h.MarkNotificationRead, http.MethodPost, "/notifications/n2/read", "u2", "id", "n2")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign mark status = %d", rec.Code)
	}
	rec = serve(h.ListNotifications, http.MethodGet, "/notifications", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", rec.Code)
	}
	rec = serve(h.ListNotifications, http.MethodGet, "/notifications?cursor=@@@@", "u1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad cursor status = %d", rec.Code)
	}
}
