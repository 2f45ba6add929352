package admin

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/jobhub/internal/httpx"
	"github.com/sudo-init-do/jobhub/internal/jobs"
)

// GET /admin/jobs
func (h *Handler) ListJobs(c echo.Context) error {
	page, err := httpx.PageFrom(c)
	if err != nil {
		return httpx.Fail(c, err)
	}
	f := jobs.Filter{
		Status:      jobs.Status(c.QueryParam("status")),
		ServiceType: c.QueryParam("service_type"),
		PostedBy:    c.QueryParam("posted_by"),
	}
	items, next, err := h.jobs.ListPage(c.Request().Context(), f, page)
	if err != nil {
		return httpx.Fail(c, err)
	}
	return httpx.OK(c, http.StatusOK, httpx.NewList(items, next))
}

// POST /admin/jobs/:id/reconcile
func (h *Handler) Reconcile(c echo.Context) error {
	id := c.Param("id")
	n, err := h.bids.Reconcile(c.Request().Context(), id)
	if err != nil {
		return httpx.Fail(c, err)
	}
	c.Logger().Infof("reconciled job %s: %d bids rejected", id, n)
	return httpx.OK(c, http.StatusOK, echo.Map{"job_id": id, "rejected": n})
}
