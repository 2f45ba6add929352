// Package marketplace exposes the job, bid, escrow and progress engines over HTTP.
package marketplace

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/jobhub/internal/bids"
	"github.com/sudo-init-do/jobhub/internal/escrow"
	"github.com/sudo-init-do/jobhub/internal/httpx"
	"github.com/sudo-init-do/jobhub/internal/jobs"
	mware "github.com/sudo-init-do/jobhub/internal/middleware"
	"github.com/sudo-init-do/jobhub/internal/progress"
)

const (
	RolePoster   = "poster"
	RoleProvider = "provider"
)

var errForbidden = errors.New("marketplace: forbidden")

type Handler struct {
	jobs     *jobs.Registry
	bids     *bids.Ledger
	escrow   *escrow.Coordinator
	progress *progress.Log
}

func NewHandler(j *jobs.Registry, b *bids.Ledger, e *escrow.Coordinator, p *progress.Log) *Handler {
	return &Handler{jobs: j, bids: b, escrow: e, progress: p}
}

// Register mounts the routes on an authenticated group.
func (h *Handler) Register(g *echo.Group) {
	g.POST("/jobs", h.CreateJob, mware.RequireRoles(RolePoster))
	g.GET("/jobs", h.ListJobs)
	g.GET("/jobs/:id", h.GetJob)
	g.POST("/jobs/:id/cancel", h.CancelJob)

	g.POST("/jobs/:id/bids", h.SubmitBid, mware.RequireRoles(RoleProvider))
	g.GET("/jobs/:id/bids", h.ListJobBids)
	g.GET("/bids/me", h.ListMyBids)
	g.PATCH("/bids/:id", h.ReviseBid, mware.RequireRoles(RoleProvider))
	g.GET("/bids/:id/revisions", h.ListRevisions)
	g.POST("/bids/:id/accept", h.AcceptBid)
	g.POST("/bids/:id/reject", h.RejectBid)

	g.POST("/bids/:id/payments", h.AuthorizePayment)
	g.GET("/payments/:id", h.GetPayment)
	g.POST("/payments/:id/capture", h.CapturePayment)
	g.POST("/payments/:id/release", h.ReleasePayment)
	g.POST("/payments/:id/refund", h.RefundPayment)
	g.POST("/payments/:id/dispute", h.DisputePayment)

	g.POST("/jobs/:id/progress", h.PostProgress)
	g.GET("/jobs/:id/progress", h.ListProgress)
}

func fail(c echo.Context, err error) error {
	if errors.Is(err, errForbidden) {
		return httpx.Deny(c, http.StatusForbidden, "not allowed for this record")
	}
	return httpx.Fail(c, err)
}

func isAdmin(c echo.Context) bool { return httpx.Role(c) == mware.RoleAdmin }

// ownedJob loads a job the caller posted. Admins act on any job.
func (h *Handler) ownedJob(c echo.Context, id string) (jobs.Job, error) {
	j, err := h.jobs.GetJob(c.Request().Context(), id)
	if err != nil {
		return jobs.Job{}, err
	}
	if j.PostedBy != httpx.UserID(c) && !isAdmin(c) {
		return jobs.Job{}, errForbidden
	}
	return j, nil
}
