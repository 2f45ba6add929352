package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/sudo-init-do/jobhub/internal/admin"
	"github.com/sudo-init-do/jobhub/internal/alerts"
	"github.com/sudo-init-do/jobhub/internal/app"
	"github.com/sudo-init-do/jobhub/internal/config"
	"github.com/sudo-init-do/jobhub/internal/httpx"
	"github.com/sudo-init-do/jobhub/internal/marketplace"
	mware "github.com/sudo-init-do/jobhub/internal/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET is not set")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("start app", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	e := newServer(a)
	go func() {
		logger.Info("API server listening", "port", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

func newServer(a *app.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = httpx.NewValidator()

	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(a.Config.RateLimit))))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
	e.GET("/ready", func(c echo.Context) error {
		if err := a.Store.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_ready", "error": "db unreachable"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
	})

	jwt := mware.JWT(a.Config.JWTSecret)

	api := e.Group("", jwt)
	marketplace.NewHandler(a.Jobs, a.Bids, a.Escrow, a.Progress).Register(api)

	notes := alerts.NewHTTP(a.Store)
	api.GET("/notifications", notes.ListNotifications)
	api.POST("/notifications/:id/read", notes.MarkNotificationRead)

	api.GET("/jobs/:id/ws", a.Hub.JobWS)

	adminGroup := e.Group("/admin", jwt, mware.AdminGuard)
	admin.NewHandler(a.Store, a.Jobs, a.Bids, a.Escrow).Register(adminGroup)

	return e
}
