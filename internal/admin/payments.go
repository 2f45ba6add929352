package admin

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/jobhub/internal/escrow"
	"github.com/sudo-init-do/jobhub/internal/httpx"
)

// GET /admin/payments?status=disputed
func (h *Handler) ListPayments(c echo.Context) error {
	page, err := httpx.PageFrom(c)
	if err != nil {
		return httpx.Fail(c, err)
	}
	f := escrow.Filter{Status: escrow.Status(c.QueryParam("status")), JobID: c.QueryParam("job_id")}
	items, next, err := h.escrow.ListPage(c.Request().Context(), f, page)
	if err != nil {
		return httpx.Fail(c, err)
	}
	views := make([]PaymentView, len(items))
	for i, p := range items {
		views[i] = NewPaymentView(p)
	}
	return httpx.OK(c, http.StatusOK, httpx.NewList(views, next))
}
