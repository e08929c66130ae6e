// Package server exposes the HTTP trigger surface: on-demand scale-down and
// sweep invocations, a health probe and the Prometheus scrape endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/softcane/scaledown-agent/internal/controller"
)

// Runner executes invocations on behalf of HTTP callers.
type Runner interface {
	RunOnce(ctx context.Context) (controller.Report, error)
	Sweep(ctx context.Context) (controller.SweepReport, error)
}

// Config configures the HTTP server.
type Config struct {
	Runner        Runner
	ListenAddress string
	Logger        *slog.Logger
}

// Server serves the trigger endpoints.
type Server struct {
	runner Runner
	addr   string
	logger *slog.Logger
}

// New creates a new Server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	addr := cfg.ListenAddress
	if addr == "" {
		addr = ":8080"
	}
	return &Server{runner: cfg.Runner, addr: addr, logger: logger}
}

// Handler returns the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/scaledown", s.handleScaleDown)
	mux.HandleFunc("POST /api/scaledown", s.handleScaleDown)
	mux.HandleFunc("GET /api/sweep", s.handleSweep)
	mux.HandleFunc("POST /api/sweep", s.handleSweep)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", "address", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type scaleDownResponse struct {
	Message string `json:"message"`
	controller.Report
}

type sweepResponse struct {
	Message string `json:"message"`
	controller.SweepReport
}

func (s *Server) handleScaleDown(w http.ResponseWriter, r *http.Request) {
	report, err := s.runner.RunOnce(r.Context())
	if err != nil {
		s.logger.Error("scale-down invocation failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.logger.Info(report.Message(), "outcome", report.Outcome, "trigger", "http")
	s.respond(w, r, report.Message(), scaleDownResponse{Message: report.Message(), Report: report})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := s.runner.Sweep(r.Context())
	if err != nil {
		s.logger.Error("sweep invocation failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.logger.Info(report.Message(), "trigger", "http")
	s.respond(w, r, report.Message(), sweepResponse{Message: report.Message(), SweepReport: report})
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, message string, body any) {
	if r.URL.Query().Get("format") == "json" {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(body); err != nil {
			s.logger.Warn("failed to encode response", "error", err)
		}
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(message))
}
