package server

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"tunnel/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Info describes the running service on /api/info
type Info struct {
	Service     string `json:"service"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

// Server handles health checks, service info and metrics
type Server struct {
	httpServer *http.Server
	logger     *logger.Logger
	info       Info
	ready      atomic.Bool
	now        func() time.Time
}

// New creates a new observability server. /ready answers 503 until SetReady(true).
func New(addr string, info Info, l *logger.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger: l,
		info:   info,
		now:    time.Now,
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/api/health", s.handleAPIHealth)
	mux.HandleFunc("/api/info", s.handleAPIInfo)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Handler exposes the router, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// SetReady flips what /ready reports
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

func (s *Server) handleAPIHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":    "UP",
		"service":   s.info.Service,
		"timestamp": s.now().UnixMilli(),
	})
}

func (s *Server) handleAPIInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.info)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("failed to encode response", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// Start runs the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting observability server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
