package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPService adapts an http.Server to the Service interface so the gateway
// endpoint participates in ordered lifecycle shutdown.
type HTTPService struct {
	server          *http.Server
	shutdownTimeout time.Duration
	logger          *zap.Logger
}

// NewHTTPService wraps srv. A zero shutdownTimeout falls back to 10 seconds.
//
// Precondition: srv and logger must be non-nil.
func NewHTTPService(srv *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{
		server:          srv,
		shutdownTimeout: shutdownTimeout,
		logger:          logger,
	}
}

// Start runs the listener until Stop is called. A clean shutdown reports nil.
func (s *HTTPService) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.server.Addr))
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop drains in-flight requests, then forces remaining connections closed
// once the shutdown timeout elapses. WebSocket connections do not drain on
// their own, so the forced close is the usual exit path for the gateway.
func (s *HTTPService) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown incomplete, closing", zap.Error(err))
		_ = s.server.Close()
	}
}
