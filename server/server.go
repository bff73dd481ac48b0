// Package server exposes the engine over HTTP. Every operation is a named
// method dispatched from one table, so the full surface is visible in a
// single place.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hrygo/mnemora/ai"
	"github.com/hrygo/mnemora/engine"
	"github.com/hrygo/mnemora/internal/profile"
	"github.com/hrygo/mnemora/store"
)

// Server is the HTTP front of the engine.
type Server struct {
	Profile *profile.Profile
	Engine  *engine.Engine

	echoServer *echo.Echo
	handlers   map[string]Handler
}

// NewServer builds the server and registers every method handler.
func NewServer(p *profile.Profile, e *engine.Engine) *Server {
	echoServer := echo.New()
	echoServer.Debug = true
	echoServer.HideBanner = true
	echoServer.HidePort = true

	echoServer.Use(middleware.Recover())
	echoServer.Use(middleware.CORS())

	s := &Server{
		Profile:    p,
		Engine:     e,
		echoServer: echoServer,
	}
	s.handlers = s.methodTable()

	echoServer.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	echoServer.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	echoServer.POST("/api/v1/:method", s.dispatch)

	return s
}

// Start runs the HTTP listener. It blocks until the listener stops.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	slog.Info("server listening", slog.String("address", address))
	return s.echoServer.Start(address)
}

// Shutdown drains in-flight requests and closes the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", slog.Any("error", err))
	}
	if err := s.Engine.Store.Close(); err != nil {
		slog.Error("failed to close store", slog.Any("error", err))
	}
	slog.Info("server shutdown complete")
}

// dispatch routes one request to its named handler.
func (s *Server) dispatch(c echo.Context) error {
	method := c.Param("method")
	handler, ok := s.handlers[method]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown method: "+method)
	}

	result, err := handler(c)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// toHTTPError maps the engine's error kinds onto HTTP statuses.
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, store.ErrInvalidArgument):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ai.ErrEmbeddingUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, store.ErrConcurrentMutation):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
