package admin

import (
	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/jobhub/internal/bids"
	"github.com/sudo-init-do/jobhub/internal/escrow"
	"github.com/sudo-init-do/jobhub/internal/jobs"
)

type Handler struct {
	store  Store
	jobs   *jobs.Registry
	bids   *bids.Ledger
	escrow *escrow.Coordinator
}

func NewHandler(s Store, j *jobs.Registry, b *bids.Ledger, e *escrow.Coordinator) *Handler {
	return &Handler{store: s, jobs: j, bids: b, escrow: e}
}

// Register mounts the admin routes. The group is expected to carry JWT and AdminGuard.
func (h *Handler) Register(g *echo.Group) {
	g.GET("/stats", h.Stats)
	g.GET("/payments", h.ListPayments)
	g.GET("/jobs", h.ListJobs)
	g.POST("/jobs/:id/reconcile", h.Reconcile)
}
