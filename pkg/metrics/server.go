package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes /metrics (Prometheus) and /health on its own listener,
// separate from the trigger HTTP facade (spec.md §6).
type Server struct {
	server *http.Server
	log    *zap.Logger
}

// NewServer builds a metrics server bound to ":port". It is not started
// until StartAsync is called.
func NewServer(port string, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{Addr: ":" + port, Handler: mux},
		log:    logger,
	}
}

// StartAsync launches the listener in a background goroutine, logging
// (not panicking) if it exits with anything other than ErrServerClosed.
func (s *Server) StartAsync() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("metrics server stopped unexpectedly", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
