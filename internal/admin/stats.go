package admin

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/jobhub/internal/apperr"
	"github.com/sudo-init-do/jobhub/internal/httpx"
	"github.com/sudo-init-do/jobhub/internal/jobs"
)

type Overview struct {
	Jobs     map[jobs.Status]int64 `json:"jobs"`
	Payments []PaymentTotal        `json:"payments"`
}

// Snapshot gathers the dashboard counters.
func Snapshot(ctx context.Context, s Store) (Overview, error) {
	counts, err := s.CountJobsByStatus(ctx)
	if err != nil {
		return Overview{}, apperr.Storage("count jobs", err)
	}
	for _, st := range []jobs.Status{jobs.StatusOpen, jobs.StatusInProgress, jobs.StatusCompleted, jobs.StatusCancelled} {
		if _, ok := counts[st]; !ok {
			counts[st] = 0
		}
	}
	totals, err := s.PaymentTotals(ctx)
	if err != nil {
		return Overview{}, apperr.Storage("payment totals", err)
	}
	if totals == nil {
		totals = []PaymentTotal{}
	}
	return Overview{Jobs: counts, Payments: totals}, nil
}

// GET /admin/stats
func (h *Handler) Stats(c echo.Context) error {
	o, err := Snapshot(c.Request().Context(), h.store)
	if err != nil {
		return httpx.Fail(c, err)
	}
	return httpx.OK(c, http.StatusOK, o)
}
