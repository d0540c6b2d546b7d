package metrics

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anstrom/portsweep/internal/logging"
)

const (
	serverShutdownTimeout = 5 * time.Second
	serverReadTimeout     = 10 * time.Second
)

// Server exposes the Prometheus registry over HTTP while a scan runs.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	listener   net.Listener
	logger     *logging.Logger
	progress   *ProgressHub
}

// NewServer builds a metrics server for addr. accessLog receives combined
// access log lines; pass nil to disable request logging.
func NewServer(addr string, pm *PrometheusMetrics, logger *logging.Logger, accessLog io.Writer) *Server {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(pm.GetRegistry(), promhttp.HandlerOpts{})).
		Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok\n")
	}).Methods(http.MethodGet)

	progress := NewProgressHub(logger)
	router.Handle("/ws/progress", progress).Methods(http.MethodGet)

	var handler http.Handler = router
	if accessLog != nil {
		handler = handlers.CombinedLoggingHandler(accessLog, handler)
	}
	handler = handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(handler)

	return &Server{
		router:   router,
		logger:   logger.WithComponent("metrics"),
		progress: progress,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: serverReadTimeout,
		},
	}
}

// Handler returns the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Progress returns the hub behind /ws/progress.
func (s *Server) Progress() *ProgressHub {
	return s.progress
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("metrics server listen failed: %w", err)
	}
	s.listener = ln

	s.logger.Info("Starting metrics server", "address", ln.Addr().String())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Stop gracefully stops the metrics server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	s.progress.Close()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	s.logger.Debug("Metrics server stopped")
	return nil
}
