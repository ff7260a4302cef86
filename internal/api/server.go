// Package api exposes the review and changeset workflow over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/docpilot/internal/changesets"
	"github.com/docpilot/internal/jobqueue"
	"github.com/docpilot/internal/llmcache"
	"github.com/docpilot/internal/pipeline"
	"github.com/docpilot/internal/proposals"
	"github.com/docpilot/internal/scheduler"
)

// Clearer resets processed messages of a tenant.
type Clearer interface {
	ClearProcessed(ctx context.Context, tenant, streamID string) (scheduler.ClearResult, error)
}

// Deps are the services the handlers call.
type Deps struct {
	Proposals *proposals.Service
	Batches   *changesets.Service
	Cache     *llmcache.Cache
	Clearer   Clearer
	Queue     jobqueue.Enqueuer
	// Postprocessor rebuilds proposal text on reprocess. Without one only
	// the raw text is reformatted.
	Postprocessor *pipeline.Postprocessor
	// JWTSecret enables bearer authentication on /api/v1 when set.
	JWTSecret string
}

// Server represents the API server
type Server struct {
	echo *echo.Echo
	port int
	deps Deps
}

// NewServer creates a new API server
func NewServer(port int, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("HTTP request")
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo: e,
		port: port,
		deps: deps,
	}
	server.setupRoutes()
	return server
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	if s.deps.JWTSecret != "" {
		v1.Use(requireAuth(s.deps.JWTSecret))
	}

	post := s.deps.Postprocessor
	if post == nil {
		post = &pipeline.Postprocessor{}
	}
	ph := &proposalHandler{svc: s.deps.Proposals, post: post}
	v1.GET("/proposals", ph.list)
	v1.POST("/proposals/reprocess", ph.reprocess)
	v1.GET("/proposals/:id", ph.get)
	v1.PATCH("/proposals/:id/status", ph.updateStatus)
	v1.PATCH("/proposals/:id/text", ph.updateText)
	v1.GET("/conversations/:id/status", ph.conversationStatus)

	bh := &batchHandler{svc: s.deps.Batches}
	v1.POST("/batches", bh.create)
	v1.GET("/batches", bh.list)
	v1.GET("/batches/:batchId", bh.get)
	v1.DELETE("/batches/:batchId", bh.delete)
	v1.POST("/batches/:batchId/pr", bh.generatePR)
	v1.POST("/pr", bh.submit)

	ch := &cacheHandler{cache: s.deps.Cache}
	v1.POST("/cache/purge", ch.purge)
	v1.GET("/cache/stats", ch.stats)

	th := &tenantHandler{queue: s.deps.Queue, clearer: s.deps.Clearer}
	v1.POST("/tenants/:tenant/process", th.process)
	v1.POST("/tenants/:tenant/clear-processed", th.clearProcessed)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.port).Msg("API server listening")
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}
