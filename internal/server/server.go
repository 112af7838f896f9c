// Package server exposes thread, session and dispatch operations as a JSON
// API with a server-sent event feed, for presentation layers that run out
// of process.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/labdesk/internal/assistant"
	"github.com/zulandar/labdesk/internal/dispatch"
	"github.com/zulandar/labdesk/internal/health"
	"github.com/zulandar/labdesk/internal/logging"
	"github.com/zulandar/labdesk/internal/registry"
	"github.com/zulandar/labdesk/internal/session"
	"go.uber.org/zap"
)

// Server serves the API.
type Server struct {
	registry *registry.Registry
	machine  *session.Machine
	coord    *dispatch.Coordinator
	client   assistant.Client
	prober   *health.Prober
	port     int
	out      io.Writer
	log      *zap.Logger
	hub      *hub
}

// ServerOpts holds configuration for the API server.
type ServerOpts struct {
	Registry    *registry.Registry
	Machine     *session.Machine
	Coordinator *dispatch.Coordinator
	Client      assistant.Client
	Prober      *health.Prober // optional; health is then checked on demand
	Port        int
	Out         io.Writer
	Logger      *zap.Logger
}

// New creates a Server and subscribes it to registry events.
func New(opts ServerOpts) (*Server, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("server: registry is required")
	}
	if opts.Machine == nil {
		return nil, fmt.Errorf("server: machine is required")
	}
	if opts.Coordinator == nil {
		return nil, fmt.Errorf("server: coordinator is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("server: client is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8090
	}
	s := &Server{
		registry: opts.Registry,
		machine:  opts.Machine,
		coord:    opts.Coordinator,
		client:   opts.Client,
		prober:   opts.Prober,
		port:     opts.Port,
		out:      opts.Out,
		log:      logging.OrNop(opts.Logger),
		hub:      newHub(),
	}
	s.registry.Subscribe(s.hub.publish)
	return s, nil
}

// Handler builds the gin router.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	s.registerRoutes(router)
	return router
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.hub.close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if s.out != nil {
		fmt.Fprintf(s.out, "API listening at http://localhost:%d\n", s.port)
	}
	s.log.Info("api server started", zap.Int("port", s.port))

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
