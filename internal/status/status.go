// Package status serves the server's metrics and latest run report over HTTP.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tkjaer/pathq/internal/shared"
)

const shutdownTimeout = 5 * time.Second

// Server is the status HTTP API. It is also an output: every finished run
// becomes the report served on /runs/latest.
type Server struct {
	addr   string
	router *mux.Router

	mu     sync.RWMutex
	latest *shared.RunReport
}

// New builds the router. Metrics are gathered from g.
func New(addr string, g prometheus.Gatherer) *Server {
	s := &Server{addr: addr, router: mux.NewRouter()}
	s.router.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/runs/latest", s.latestHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", healthHandler).Methods(http.MethodGet)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on the configured address until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return shared.NewTransportError("bind", s.addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			slog.Warn("Status server forced to shut down", "error", err)
		}
	})
	defer stop()

	slog.Info("Status server listening", "addr", ln.Addr())
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) CompleteRun(report *shared.RunReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *report
	s.latest = &r
}

func (s *Server) Close() error {
	return nil
}

func (s *Server) latestHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()

	if latest == nil {
		http.Error(w, "no run reported yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(latest); err != nil {
		slog.Debug("Writing latest run failed", "error", err)
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
