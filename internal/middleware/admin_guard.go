package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/jobhub/internal/httpx"
)

const RoleAdmin = "admin"

// AdminGuard ensures only admin users can access admin routes
func AdminGuard(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if httpx.Role(c) != RoleAdmin {
			return httpx.Deny(c, http.StatusForbidden, "admin access only")
		}
		return next(c)
	}
}
