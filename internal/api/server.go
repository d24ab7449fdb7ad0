package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xkilldash9x/relocator/internal/config"
)

// NewRouter wraps the handlers with the standard middleware stack.
func NewRouter(h *Handlers, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if requestTimeout > 0 {
		r.Use(middleware.Timeout(requestTimeout))
	}
	h.RegisterRoutes(r)
	return r
}

// Server is the HTTP listener for the API.
type Server struct {
	cfg      config.ServerConfig
	handlers *Handlers
	http     *http.Server
	logger   *zap.Logger
}

// NewServer binds h to the configured address.
func NewServer(cfg config.ServerConfig, h *Handlers, logger *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		handlers: h,
		http: &http.Server{
			Addr:              cfg.Addr,
			Handler:           NewRouter(h, cfg.RequestTimeout),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.Named("api"),
	}
}

// Run serves until ctx is done, then shuts down gracefully and waits for
// background scans to return.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", zap.String("address", s.cfg.Addr))
		errc <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down API server...")
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := s.http.Shutdown(shutdownCtx)
	<-errc
	s.handlers.Wait()
	if err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}
