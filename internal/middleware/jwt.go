package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/jobhub/internal/httpx"
)

// JWT validates the bearer token and stores its user_id and role claims on the context.
func JWT(secret string) echo.MiddlewareFunc {
	key := []byte(secret)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return httpx.Deny(c, http.StatusUnauthorized, "missing Authorization header")
			}
			const prefix = "Bearer "
			if len(authHeader) <= len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
				return httpx.Deny(c, http.StatusUnauthorized, "invalid Authorization format")
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(authHeader[len(prefix):], claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.New("unexpected signing method")
				}
				return key, nil
			})
			if err != nil || !token.Valid {
				return httpx.Deny(c, http.StatusUnauthorized, "invalid or expired token")
			}

			userID, ok := claims["user_id"].(string)
			if !ok || userID == "" {
				return httpx.Deny(c, http.StatusUnauthorized, "invalid token claims")
			}
			role, _ := claims["role"].(string)
			c.Set(httpx.KeyUserID, userID)
			c.Set(httpx.KeyRole, role)
			return next(c)
		}
	}
}
