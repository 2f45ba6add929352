package marketplace

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/jobhub/internal/httpx"
	"github.com/sudo-init-do/jobhub/internal/jobs"
)

// CreateJob - poster publishes a job
func (h *Handler) CreateJob(c echo.Context) error {
	var req CreateJobRequest
	if err := httpx.Bind(c, &req); err != nil {
		return fail(c, err)
	}
	j, err := h.jobs.CreateJob(c.Request().Context(), jobs.CreateParams{
		Title:       req.Title,
		Description: req.Description,
		ServiceType: req.ServiceType,
		Location:    req.Location,
		PostedBy:    httpx.UserID(c),
	})
	if err != nil {
		return fail(c, err)
	}
	return httpx.OK(c, http.StatusCreated, j)
}

// ListJobs filters by status, service_type and posted_by.
func (h *Handler) ListJobs(c echo.Context) error {
	page, err := httpx.PageFrom(c)
	if err != nil {
		return fail(c, err)
	}
	f := jobs.Filter{
		Status:      jobs.Status(c.QueryParam("status")),
		ServiceType: c.QueryParam("service_type"),
		PostedBy:    c.QueryParam("posted_by"),
	}
	items, next, err := h.jobs.ListPage(c.Request().Context(), f, page)
	if err != nil {
		return fail(c, err)
	}
	return httpx.OK(c, http.StatusOK, httpx.NewList(items, next))
}

func (h *Handler) GetJob(c echo.Context) error {
	j, err := h.jobs.GetJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return httpx.OK(c, http.StatusOK, j)
}

// CancelJob - poster withdraws a job that has not completed
func (h *Handler) CancelJob(c echo.Context) error {
	j, err := h.ownedJob(c, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	j, err = h.jobs.CancelJob(c.Request().Context(), j.ID)
	if err != nil {
		return fail(c, err)
	}
	return httpx.OK(c, http.StatusOK, j)
}
