package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/jobhub/internal/httpx"
)

// RequireRoles ensures the requester's role is one of the allowed roles. Admins pass every check.
// Usage: route(..., RequireRoles("poster"))
func RequireRoles(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role := httpx.Role(c)
			if role == "" {
				return httpx.Deny(c, http.StatusForbidden, "role missing")
			}
			if role == RoleAdmin {
				return next(c)
			}
			for _, r := range roles {
				if role == r {
					return next(c)
				}
			}
			return httpx.Deny(c, http.StatusForbidden, "access denied")
		}
	}
}
