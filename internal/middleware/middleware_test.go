package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/jobhub/internal/httpx"
)

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newServer() *echo.Echo {
	e := echo.New()
	g := e.Group("", JWT("secret"))
	g.GET("/whoami", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"user_id": httpx.UserID(c), "role": httpx.Role(c)})
	})
	g.GET("/post", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, RequireRoles("poster"))
	g.GET("/admin", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, AdminGuard)
	return e
}

func do(e *echo.Echo, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWT(t *testing.T) {
	e := newServer()
	exp := time.Now().Add(time.Hour).Unix()

	rec := do(e, "/whoami", sign(t, "secret", jwt.MapClaims{"user_id": "u1", "role": "poster", "exp": exp}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got["user_id"] != "u1" || got["role"] != "poster" {
		t.Fatalf("claims = %v", got)
	}

	cases := map[string]string{
		"missing":     "",
		"bad secret":  sign(t, "other", jwt.MapClaims{"user_id": "u1", "exp": exp}),
		"expired":     sign(t, "secret", jwt.MapClaims{"user_id": "u1", "exp": time.Now().Add(-time.Hour).Unix()}),
		"no user":     sign(t, "secret", jwt.MapClaims{"role": "poster", "exp": exp}),
		"not a token": "garbage",
	}
	for name, token := range cases {
		if rec := do(e, "/whoami", token); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d", name, rec.Code)
		}
	}
}

func TestRoles(t *testing.T) {
	e := newServer()
	exp := time.Now().Add(time.Hour).Unix()
	poster := sign(t, "secret", jwt.MapClaims{"user_id": "u1", "role": "poster", "exp": exp})
	provider := sign(t, "secret", jwt.MapClaims{"user_id": "u2", "role": "provider", "exp": exp})
	admin := sign(t, "secret", jwt.MapClaims{"user_id": "u3", "role": "admin", "exp": exp})

	checks := []struct {
		path, token string
		want        int
	}{
		{"/post", poster, http.StatusNoContent},
		{"/post", provider, http.StatusForbidden},
		{"/post", admin, http.StatusNoContent},
		{"/admin", poster, http.StatusForbidden},
		{"/admin", admin, http.StatusNoContent},
	}
	for _, c := range checks {
		if rec := do(e, c.path, c.token); rec.Code != c.want {
			t.Errorf("%s: status = %d, want %d", c.path, rec.Code, c.want)
		}
	}
}
