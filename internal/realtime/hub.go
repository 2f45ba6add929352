// Package realtime pushes job events to connected participants over websockets.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/jobhub/internal/alerts"
	"github.com/sudo-init-do/jobhub/internal/apperr"
	"github.com/sudo-init-do/jobhub/internal/bids"
	"github.com/sudo-init-do/jobhub/internal/httpx"
	"github.com/sudo-init-do/jobhub/internal/jobs"
	"github.com/sudo-init-do/jobhub/internal/store"
)

const (
	writeWait = 5 * time.Second

	// sendBuffer is how many events a connection may fall behind before it is dropped.
	sendBuffer = 16
)

var _ alerts.Notifier = (*Hub)(nil)

type Jobs interface {
	GetJob(ctx context.Context, id string) (jobs.Job, error)
}

// Bids is satisfied by the ledger or directly by a bid store.
type Bids interface {
	FindBid(ctx context.Context, jobID, bidderID string) (bids.Bid, error)
}

type wsEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// writePump is the only writer on the connection. It exits when send is closed or a write fails.
func (c *client) writePump(logger *slog.Logger) {
	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			logger.Debug("realtime write failed", "user_id", c.userID, "err", err)
			_ = c.conn.Close()
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

type room struct {
	clients map[*client]bool
}

// Hub keeps one room of connections per job.
type Hub struct {
	jobs   Jobs
	bids   Bids
	logger *slog.Logger

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]*room
}

func NewHub(j Jobs, b Bids, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		jobs:   j,
		bids:   b,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		rooms: make(map[string]*room),
	}
}

func (h *Hub) register(jobID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[jobID]
	if !ok {
		r = &room{clients: make(map[*client]bool)}
		h.rooms[jobID] = r
	}
	r.clients[c] = true
}

// unregister removes c and stops its writer. It reports false when c was already gone.
func (h *Hub) unregister(jobID string, c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[jobID]
	if !ok || !r.clients[c] {
		return false
	}
	delete(r.clients, c)
	close(c.send)
	if len(r.clients) == 0 {
		delete(h.rooms, jobID)
	}
	return true
}

func (h *Hub) leave(jobID string, c *client) {
	if h.unregister(jobID, c) {
		h.broadcast(jobID, wsEvent{Type: "presence_leave", Data: echo.Map{"user_id": c.userID}}, nil)
	}
}

// Connections returns the number of open connections in a job's room.
func (h *Hub) Connections(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[jobID]; ok {
		return len(r.clients)
	}
	return 0
}

// broadcast queues evt for every connection in the room, or only for users in to when it is set.
// It never waits on a connection; one whose buffer is full is dropped.
func (h *Hub) broadcast(jobID string, evt wsEvent, to []string) {
	payload, err := json.Marshal(evt)
	if err != nil {
		h.logger.Warn("realtime encode failed", "type", evt.Type, "err", err)
		return
	}
	var slow []*client
	h.mu.RLock()
	if r, ok := h.rooms[jobID]; ok {
		for c := range r.clients {
			if to != nil && !slices.Contains(to, c.userID) {
				continue
			}
			select {
			case c.send <- payload:
			default:
				slow = append(slow, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("realtime client too slow, dropping", "job_id", jobID, "user_id", c.userID)
		_ = c.conn.Close()
		h.leave(jobID, c)
	}
}

// Notify queues ev for its job's room. Payment events reach only their recipients; events without a
// job are ignored.
func (h *Hub) Notify(_ context.Context, ev alerts.Event) error {
	if ev.JobID == "" {
		return nil
	}
	var to []string
	if ev.PaymentID != "" {
		if len(ev.Recipients) == 0 {
			return nil
		}
		to = ev.Recipients
	}
	h.broadcast(ev.JobID, wsEvent{Type: ev.Type, Data: ev}, to)
	return nil
}

func (h *Hub) participant(ctx context.Context, jobID, userID string) error {
	job, err := h.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.PostedBy == userID {
		return nil
	}
	if _, err := h.bids.FindBid(ctx, jobID, userID); err != nil {
		if apperr.Is(err, apperr.KindNotFound) || errors.Is(err, store.ErrNotFound) {
			return errNotParticipant
		}
		return err
	}
	return nil
}

var errNotParticipant = errors.New("realtime: not a participant")

// JobWS upgrades the poster or a bidder of the job to a push-only event stream.
func (h *Hub) JobWS(c echo.Context) error {
	userID := httpx.UserID(c)
	if userID == "" {
		return httpx.Deny(c, http.StatusUnauthorized, "unauthorized")
	}
	jobID := c.Param("id")
	if err := h.participant(c.Request().Context(), jobID, userID); err != nil {
		if errors.Is(err, errNotParticipant) {
			return httpx.Deny(c, http.StatusForbidden, "not a participant in this job")
		}
		return httpx.Fail(c, err)
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	cl := &client{userID: userID, conn: ws, send: make(chan []byte, sendBuffer)}
	go cl.writePump(h.logger)
	h.register(jobID, cl)
	h.broadcast(jobID, wsEvent{Type: "presence_join", Data: echo.Map{"user_id": userID}}, nil)

	// Client messages are discarded; the read loop only detects disconnects.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			h.leave(jobID, cl)
			_ = ws.Close()
			return nil
		}
	}
}
