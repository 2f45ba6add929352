package marketplace

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/jobhub/internal/apperr"
	"github.com/sudo-init-do/jobhub/internal/httpx"
	"github.com/sudo-init-do/jobhub/internal/progress"
)

// PostProgress - poster or accepted provider records where the work stands
func (h *Handler) PostProgress(c echo.Context) error {
	var req ProgressRequest
	if err := httpx.Bind(c, &req); err != nil {
		return fail(c, err)
	}
	res, err := h.progress.PostUpdate(c.Request().Context(), progress.PostParams{
		JobID:           c.Param("id"),
		BidID:           req.BidID,
		AuthorID:        httpx.UserID(c),
		Status:          req.Status,
		ProgressPercent: req.ProgressPercent,
		Title:           req.Title,
		Body:            req.Body,
		Internal:        req.Internal,
	})
	if err != nil {
		return fail(c, err)
	}
	return httpx.OK(c, http.StatusCreated, res)
}

// ListProgress returns a job's updates. Internal updates are only listed for admins.
func (h *Handler) ListProgress(c echo.Context) error {
	ctx := c.Request().Context()
	page, err := httpx.PageFrom(c)
	if err != nil {
		return fail(c, err)
	}
	j, err := h.jobs.GetJob(ctx, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	uid := httpx.UserID(c)
	if j.PostedBy != uid && !isAdmin(c) {
		if _, err := h.bids.FindBid(ctx, j.ID, uid); err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				err = errForbidden
			}
			return fail(c, err)
		}
	}
	q := progress.Query{JobID: j.ID, IncludeInternal: isAdmin(c)}
	items, next, err := h.progress.ListPage(ctx, q, page)
	if err != nil {
		return fail(c, err)
	}
	return httpx.OK(c, http.StatusOK, httpx.NewList(items, next))
}
