package marketplace

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/jobhub/internal/escrow"
	"github.com/sudo-init-do/jobhub/internal/httpx"
)

// payment loads a payment the caller takes part in. posterOnly narrows that to the payer.
func (h *Handler) payment(c echo.Context, posterOnly bool) (escrow.Payment, error) {
	p, err := h.escrow.GetPayment(c.Request().Context(), c.Param("id"))
	if err != nil {
		return escrow.Payment{}, err
	}
	uid := httpx.UserID(c)
	switch {
	case isAdmin(c), p.PosterID == uid:
		return p, nil
	case p.ProviderID == uid && !posterOnly:
		return p, nil
	}
	return escrow.Payment{}, errForbidden
}

// AuthorizePayment - poster starts paying for the accepted bid
func (h *Handler) AuthorizePayment(c echo.Context) error {
	var req AuthorizeRequest
	if err := httpx.Bind(c, &req); err != nil {
		return fail(c, err)
	}
	ctx := c.Request().Context()
	b, err := h.bids.GetBid(ctx, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	if _, err := h.ownedJob(c, b.JobID); err != nil {
		return fail(c, err)
	}
	res, err := h.escrow.Authorize(ctx, escrow.AuthorizeParams{
		BidID:          b.ID,
		Currency:       req.Currency,
		IdempotencyKey: httpx.IdempotencyKey(c),
	})
	if err != nil {
		return fail(c, err)
	}
	return httpx.OK(c, http.StatusCreated, res)
}

func (h *Handler) GetPayment(c echo.Context) error {
	p, err := h.payment(c, false)
	if err != nil {
		return fail(c, err)
	}
	return httpx.OK(c, http.StatusOK, p)
}

// CapturePayment - poster relays the processor's capture confirmation
func (h *Handler) CapturePayment(c echo.Context) error {
	var req CaptureRequest
	if err := httpx.Bind(c, &req); err != nil {
		return fail(c, err)
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return fail(c, err)
	}
	p, err := h.payment(c, true)
	if err != nil {
		return fail(c, err)
	}
	p, err = h.escrow.ConfirmCapture(c.Request().Context(), escrow.CaptureParams{
		PaymentID: p.ID,
		Confirmation: escrow.CaptureConfirmation{
			Reference: req.Reference,
			Amount:    amount,
			Currency:  req.Currency,
			Signature: req.Signature,
		},
		IdempotencyKey: httpx.IdempotencyKey(c),
	})
	if err != nil {
		return fail(c, err)
	}
	return httpx.OK(c, http.StatusOK, p)
}

// ReleasePayment - poster pays the provider out of escrow after completion
func (h *Handler) ReleasePayment(c echo.Context) error {
	var req SettleRequest
	if err := httpx.Bind(c, &req); err != nil {
		return fail(c, err)
	}
	p, err := h.payment(c, true)
	if err != nil {
		return fail(c, err)
	}
	amount, err := amountOr(req.Amount, p.Amount)
	if err != nil {
		return fail(c, err)
	}
	p, err = h.escrow.Release(c.Request().Context(), escrow.ReleaseParams{
		PaymentID:      p.ID,
		Amount:         amount,
		Reason:         req.Reason,
		IdempotencyKey: httpx.IdempotencyKey(c),
	})
	if err != nil {
		return fail(c, err)
	}
	return httpx.OK(c, http.StatusOK, p)
}

func (h *Handler) RefundPayment(c echo.Context) error {
	var req SettleRequest
	if err := httpx.Bind(c, &req); err != nil {
		return fail(c, err)
	}
	p, err := h.payment(c, true)
	if err != nil {
		return fail(c, err)
	}
	amount, err := amountOr(req.Amount, p.Amount)
	if err != nil {
		return fail(c, err)
	}
	p, err = h.escrow.Refund(c.Request().Context(), escrow.RefundParams{
		PaymentID:      p.ID,
		Amount:         amount,
		Reason:         req.Reason,
		IdempotencyKey: httpx.IdempotencyKey(c),
	})
	if err != nil {
		return fail(c, err)
	}
	return httpx.OK(c, http.StatusOK, p)
}

// DisputePayment - either party freezes held funds
func (h *Handler) DisputePayment(c echo.Context) error {
	var req DisputeRequest
	if err := httpx.Bind(c, &req); err != nil {
		return fail(c, err)
	}
	p, err := h.payment(c, false)
	if err != nil {
		return fail(c, err)
	}
	p, err = h.escrow.Dispute(c.Request().Context(), escrow.DisputeParams{
		PaymentID:      p.ID,
		Reason:         req.Reason,
		Evidence:       req.Evidence,
		IdempotencyKey: httpx.IdempotencyKey(c),
	})
	if err != nil {
		return fail(c, err)
	}
	return httpx.OK(c, http.StatusOK, p)
}
