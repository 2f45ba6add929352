package marketplace

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/jobhub/internal/bids"
	"github.com/sudo-init-do/jobhub/internal/httpx"
)

// SubmitBid - provider offers terms on an open job
func (h *Handler) SubmitBid(c echo.Context) error {
	var req BidRequest
	if err := httpx.Bind(c, &req); err != nil {
		return fail(c, err)
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return fail(c, err)
	}
	b, err := h.bids.SubmitBid(c.Request().Context(), bids.SubmitParams{
		JobID:       c.Param("id"),
		BidderID:    httpx.UserID(c),
		Amount:      amount,
		Timeline:    req.Timeline,
		Description: req.Description,
	})
	if err != nil {
		return fail(c, err)
	}
	return httpx.OK(c, http.StatusCreated, b)
}

// ListJobBids shows the poster every bid and a provider only their own.
func (h *Handler) ListJobBids(c echo.Context) error {
	ctx := c.Request().Context()
	page, err := httpx.PageFrom(c)
	if err != nil {
		return fail(c, err)
	}
	j, err := h.jobs.GetJob(ctx, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	f := bids.Filter{JobID: j.ID, Status: bids.Status(c.QueryParam("status"))}
	if j.PostedBy != httpx.UserID(c) && !isAdmin(c) {
		f.BidderID = httpx.UserID(c)
	}
	items, next, err := h.bids.ListPage(ctx, f, page)
	if err != nil {
		return fail(c, err)
	}
	return httpx.OK(c, http.StatusOK, httpx.NewList(items, next))
}

func (h *Handler) ListMyBids(c echo.Context) error {
	page, err := httpx.PageFrom(c)
	if err != nil {
		return fail(c, err)
	}
	f := bids.Filter{BidderID: httpx.UserID(c), Status: bids.Status(c.QueryParam("status"))}
	items, next, err := h.bids.ListPage(c.Request().Context(), f, page)
	if err != nil {
		return fail(c, err)
	}
	return httpx.OK(c, http.StatusOK, httpx.NewList(items, next))
}

// ReviseBid - bidder replaces the terms of a pending bid
func (h *Handler) ReviseBid(c echo.Context) error {
	var req BidRequest
	if err := httpx.Bind(c, &req); err != nil {
		return fail(c, err)
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return fail(c, err)
	}
	b, err := h.bids.ReviseBid(c.Request().Context(), bids.ReviseParams{
		BidID:       c.Param("id"),
		BidderID:    httpx.UserID(c),
		Amount:      amount,
		Timeline:    req.Timeline,
		Description: req.Description,
	})
	if err != nil {
		return fail(c, err)
	}
	return httpx.OK(c, http.StatusOK, b)
}

func (h *Handler) ListRevisions(c echo.Context) error {
	ctx := c.Request().Context()
	b, err := h.bids.GetBid(ctx, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	if b.BidderID != httpx.UserID(c) {
		if _, err := h.ownedJob(c, b.JobID); err != nil {
			return fail(c, err)
		}
	}
	revs, err := h.bids.ListRevisions(ctx, b.ID)
	if err != nil {
		return fail(c, err)
	}
	return httpx.OK(c, http.StatusOK, revs)
}

// AcceptBid - poster picks the winning bid; every other pending bid is rejected
func (h *Handler) AcceptBid(c echo.Context) error {
	ctx := c.Request().Context()
	b, err := h.bids.GetBid(ctx, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	if _, err := h.ownedJob(c, b.JobID); err != nil {
		return fail(c, err)
	}
	d, err := h.bids.AcceptBid(ctx, b.ID)
	if err != nil {
		return fail(c, err)
	}
	return httpx.OK(c, http.StatusOK, d)
}

func (h *Handler) RejectBid(c echo.Context) error {
	ctx := c.Request().Context()
	b, err := h.bids.GetBid(ctx, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	if _, err := h.ownedJob(c, b.JobID); err != nil {
		return fail(c, err)
	}
	b, err = h.bids.RejectBid(ctx, b.ID)
	if err != nil {
		return fail(c, err)
	}
	return httpx.OK(c, http.StatusOK, b)
}
