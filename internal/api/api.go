// Package api implements the operator HTTP surface (spec.md §4.11): a
// small Echo application exposing /healthz and /stats, grounded in the
// teacher's httpapi.Server (rustyguts-bken/server/internal/httpapi/server.go)
// but trimmed to the health/stats concern -- this system has no websocket
// transport or blob storage to expose alongside it.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"lair-chat/internal/chat"
	"lair-chat/internal/errs"
	"lair-chat/internal/validate"
)

// ConnectionCounter reports how many live connections the server is
// currently holding (spec.md §7's "active_connections" stat). The TCP
// accept loop implements this; api only depends on the interface so it
// never needs to know about net.Listener bookkeeping.
type ConnectionCounter interface {
	ActiveConnections() int
}

// Server is the Echo application backing the operator surface.
type Server struct {
	echo      *echo.Echo
	conns     ConnectionCounter
	validator *validate.Validator
	breakers  *errs.Registry
	errStats  *errs.Stats
	hub       *chat.Hub
	startedAt time.Time
}

// New constructs the operator Echo app (spec.md §4.11, grounded in the
// teacher's httpapi.New: echo.New, HideBanner/HidePort, Recover, and a
// slog request-logging middleware). errStats may be nil, in which case
// /stats reports errors_total as 0 and omits the other error-taxonomy
// fields (e.g. in tests that don't exercise error recording).
func New(conns ConnectionCounter, validator *validate.Validator, breakers *errs.Registry, hub *chat.Hub, errStats *errs.Stats) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{
		echo:      e,
		conns:     conns,
		validator: validator,
		breakers:  breakers,
		errStats:  errStats,
		hub:       hub,
		startedAt: time.Now(),
	}
	s.registerRoutes()
	return s
}

func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			if req.URL.Path == "/healthz" {
				slog.Debug("http request",
					"method", req.Method, "path", req.URL.Path,
					"status", c.Response().Status, "duration_ms", time.Since(start).Milliseconds())
			} else {
				slog.Info("http request",
					"method", req.Method, "path", req.URL.Path,
					"status", c.Response().Status, "duration_ms", time.Since(start).Milliseconds(),
					"remote", c.RealIP())
			}
			return nil
		}
	}
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealthz)
	s.echo.GET("/stats", s.handleStats)
}

// Run starts the server and blocks until ctx is cancelled or startup
// fails, mirroring the teacher's httpapi.Server.Run graceful-shutdown
// shape.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down operator http server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		slog.Info("operator http server stopped")
		return nil
	}
}

type healthResponse struct {
	Status            string `json:"status"`
	ActiveConnections int    `json:"active_connections"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:            "ok",
		ActiveConnections: s.conns.ActiveConnections(),
		UptimeSeconds:     int64(time.Since(s.startedAt).Seconds()),
	})
}

type statsResponse struct {
	ActiveConnections int                          `json:"active_connections"`
	UptimeSeconds     int64                        `json:"uptime_seconds"`
	ValidationTotal   int64                        `json:"validation_total"`
	ValidationOk      int64                        `json:"validation_successes"`
	RateLimited       int64                        `json:"rate_limited"`
	SecurityViolated  int64                        `json:"security_violated"`
	PerCommand        map[string]int64             `json:"per_command,omitempty"`
	Breakers          map[string]errs.BreakerState `json:"breakers,omitempty"`
	ErrorsTotal       int64                        `json:"errors_total"`
	ErrorsByKind      []errs.KindSeverityCount      `json:"errors_by_kind,omitempty"`
	ErrorRecoveries   map[errs.RecoveryKind]int64   `json:"error_recoveries,omitempty"`
	LastErrorCode     string                        `json:"last_error_code,omitempty"`
	LastErrorAt       *int64                        `json:"last_error_at,omitempty"`
}

// handleStats reports the operator counters named in spec.md §7: per-command
// validator totals, rate-limit/security-violation counts, every registered
// circuit breaker's current state, and the error taxonomy's counts by kind
// and severity, recovery outcomes, and last-error timestamp.
func (s *Server) handleStats(c echo.Context) error {
	resp := statsResponse{
		ActiveConnections: s.conns.ActiveConnections(),
		UptimeSeconds:     int64(time.Since(s.startedAt).Seconds()),
	}
	if s.validator != nil {
		stats := s.validator.Stats()
		resp.ValidationTotal = stats.Total.Load()
		resp.ValidationOk = stats.Successes.Load()
		resp.RateLimited = stats.RateLimited.Load()
		resp.SecurityViolated = stats.SecurityViolated.Load()
		resp.PerCommand = stats.PerCommandSnapshot()
	}
	if s.breakers != nil {
		resp.Breakers = s.breakers.Snapshot()
	}
	if s.errStats != nil {
		resp.ErrorsTotal = s.errStats.Total()
		resp.ErrorsByKind = s.errStats.Snapshot()
		resp.ErrorRecoveries = s.errStats.RecoverySnapshot()
		if code, at, ok := s.errStats.LastError(); ok {
			resp.LastErrorCode = code
			unix := at.Unix()
			resp.LastErrorAt = &unix
		}
	}
	return c.JSON(http.StatusOK, resp)
}
