// Package httpapi is the process's one external HTTP surface: a health
// endpoint for operational probes and the /ws upgrade route that hands
// each accepted connection to the dispatcher. The administrative REST
// surface lives elsewhere; this package is only the signaling transport.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/qcynaut/myrts-monorepo/server/internal/channel"
	"github.com/qcynaut/myrts-monorepo/server/internal/dispatch"
	"github.com/qcynaut/myrts-monorepo/server/internal/registry"
	"github.com/qcynaut/myrts-monorepo/server/internal/repo"
	"github.com/qcynaut/myrts-monorepo/server/internal/sfu"
)

// Server is the Echo application hosting /ws and /health.
type Server struct {
	echo       *echo.Echo
	dispatcher *dispatch.Dispatcher
	registry   *registry.Registry
	store      *repo.SQLiteStore
	sfu        *sfu.Manager
	upgrader   websocket.Upgrader
}

// New constructs an Echo app wired to the core's session pipeline.
func New(d *dispatch.Dispatcher, reg *registry.Registry, st *repo.SQLiteStore, mgr *sfu.Manager) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{
		echo:       e,
		dispatcher: d,
		registry:   reg,
		store:      st,
		sfu:        mgr,
		upgrader:   websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }},
	}
	e.GET("/health", s.handleHealth)
	e.GET("/debug/streams", s.handleStreams)
	e.GET("/ws", s.handleWebSocket)
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
			if req.URL.Path == "/ws" || req.URL.Path == "/health" {
				slog.Debug("http request", "method", req.Method, "path", req.URL.Path,
					"status", c.Response().Status, "duration_ms", time.Since(start).Milliseconds())
			} else {
				slog.Info("http request", "method", req.Method, "path", req.URL.Path,
					"status", c.Response().Status, "duration_ms", time.Since(start).Milliseconds(), "remote", c.RealIP())
			}
			return nil
		}
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleStreams reports which endpoint is currently subscribed to which
// operator's live stream, a read-only debug view over the SFU's routing
// table for operational introspection.
func (s *Server) handleStreams(c echo.Context) error {
	return c.JSON(http.StatusOK, s.sfu.AVSMapSnapshot())
}

// handleWebSocket upgrades the connection and blocks serving it through
// the dispatcher until the peer disconnects, matching the per-request
// goroutine net/http already runs this handler in.
func (s *Server) handleWebSocket(c echo.Context) error {
	remote := c.RealIP()
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("httpapi: websocket upgrade failed", "remote", remote, "err", err)
		return err
	}

	ch := channel.New(conn)
	slog.Info("httpapi: connection accepted", "session", ch.ID(), "remote", remote)

	deps := dispatch.Deps{Registry: s.registry, Repo: s.store, SFU: s.sfu, Channel: ch}
	s.dispatcher.Serve(c.Request().Context(), deps)

	slog.Info("httpapi: connection closed", "session", ch.ID(), "remote", remote)
	return nil
}

// Run starts Echo and blocks until ctx is canceled or startup fails.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("httpapi: shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), dispatch.ShutdownGrace)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		s.dispatcher.Shutdown()
		slog.Info("httpapi: stopped")
		return nil
	}
}
