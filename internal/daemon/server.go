package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/pvallone/chatdesk/internal/api"
	"github.com/pvallone/chatdesk/internal/config"
	"go.uber.org/zap"
)

// Server manages the HTTP server lifecycle for the daemon.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer creates an HTTP server bound to the configured listen address.
func NewServer(cfg *config.Config, handlers *api.Handlers, logger *zap.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           handlers.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start begins serving HTTP requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown, waiting for in-flight requests.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("http server stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
}
