// Package httpx holds the response envelope and request helpers shared by the echo handlers.
package httpx

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/jobhub/internal/apperr"
	"github.com/sudo-init-do/jobhub/internal/store"
)

type ErrorBody struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	Current       any    `json:"current,omitempty"`
	Retryable     bool   `json:"retryable,omitempty"`
	LocalMutation bool   `json:"local_mutation,omitempty"`
}

type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// List is the data shape of paginated responses.
type List[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

func NewList[T any](items []T, next *store.Cursor) List[T] {
	if items == nil {
		items = []T{}
	}
	l := List[T]{Items: items}
	if next != nil {
		l.NextCursor = next.Encode()
	}
	return l
}

func OK(c echo.Context, status int, data any) error {
	return c.JSON(status, Envelope{Success: true, Data: data})
}

// StatusOf maps an error kind to its HTTP status.
func StatusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindInvalidTransition:
		return http.StatusConflict
	case apperr.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}

// Fail writes err as an error envelope. Storage failures hide their cause from the client.
func Fail(c echo.Context, err error) error {
	body := &ErrorBody{Code: apperr.CodeOf(err), Message: apperr.MessageOf(err)}
	if e, ok := apperr.As(err); ok {
		body.Current = e.Current
		body.Retryable = e.Retryable
		body.LocalMutation = e.LocalMutation
	}
	status := StatusOf(err)
	if status == http.StatusServiceUnavailable {
		c.Logger().Errorf("request failed: %v", err)
		body.Code = apperr.CodeStorage
		body.Message = "storage unavailable"
	}
	return c.JSON(status, Envelope{Error: body})
}

// Deny writes an authorization failure, which sits outside the engine's error taxonomy.
func Deny(c echo.Context, status int, message string) error {
	code := "forbidden"
	if status == http.StatusUnauthorized {
		code = "unauthorized"
	}
	return c.JSON(status, Envelope{Error: &ErrorBody{Code: code, Message: message}})
}

// Validator adapts validator/v10 to echo.Validator.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator { return &Validator{v: validator.New()} }

func (cv *Validator) Validate(i any) error { return cv.v.Struct(i) }

// Bind decodes and validates the request body into req.
func Bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := c.Validate(req); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return apperr.Validation("%s failed %s", ve[0].Field(), ve[0].Tag())
		}
		return apperr.Validation("%v", err)
	}
	return nil
}

// PageFrom reads the limit and cursor query parameters.
func PageFrom(c echo.Context) (store.Page, error) {
	var p store.Page
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return p, apperr.Validation("limit must be a positive integer")
		}
		p.Limit = n
	}
	after, err := store.DecodeCursor(c.QueryParam("cursor"))
	if err != nil {
		return p, apperr.Validation("invalid cursor")
	}
	p.After = after
	return p.Normalize(), nil
}

// Context keys set by the JWT middleware.
const (
	KeyUserID = "user_id"
	KeyRole   = "role"
)

func UserID(c echo.Context) string {
	id, _ := c.Get(KeyUserID).(string)
	return id
}

func Role(c echo.Context) string {
	role, _ := c.Get(KeyRole).(string)
	return role
}

const IdempotencyHeader = "Idempotency-Key"

func IdempotencyKey(c echo.Context) string { return c.Request().Header.Get(IdempotencyHeader) }
