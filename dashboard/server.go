// Package dashboard is the read-only HTTP status surface: it exposes the
// current session, its features and workers, active protocols, and
// violations as JSON. It never mutates session state — ticket creation,
// wizards, and chat belong to the out-of-scope request/response wrapper.
package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	swarmkit "github.com/forge9/swarmkit"
	"github.com/forge9/swarmkit/protocol"
)

// Server is the dashboard's read-only HTTP surface, grounded on
// internal/web/server.go's NewServer/Start shape but trimmed to the
// JSON API handlers (no templates, no SSE, no orchestrator control).
type Server struct {
	controller *swarmkit.SessionController
	registry   *protocol.Registry
	logger     *slog.Logger
	httpServer *http.Server

	metrics  *prometheus.Registry
	requests *prometheus.CounterVec
}

// New constructs a dashboard Server over controller and registry. Metrics
// are collected on a private registry (not prometheus's global
// DefaultRegisterer) so multiple Servers, such as one per test, never
// collide on a duplicate-collector registration.
func New(controller *swarmkit.SessionController, registry *protocol.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swarmkit",
		Subsystem: "dashboard",
		Name:      "requests_total",
		Help:      "Total dashboard HTTP requests by route and status class.",
	}, []string{"route", "status_class"})
	metrics := prometheus.NewRegistry()
	metrics.MustRegister(requests)

	return &Server{controller: controller, registry: registry, logger: logger, metrics: metrics, requests: requests}
}

// Start listens on addr, exactly as given by the caller (there is no
// default address), until the process shuts it down via Stop.
func (s *Server) Start(addr string) error {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*"},
		AllowedMethods: []string{http.MethodGet},
	}))
	r.Use(s.metricsMiddleware)

	r.Get("/api/session", s.handleSession)
	r.Get("/api/features", s.handleFeatures)
	r.Get("/api/features/{id}", s.handleFeature)
	r.Get("/api/workers", s.handleWorkers)
	r.Get("/api/protocols", s.handleProtocols)
	r.Get("/api/protocols/{id}/violations", s.handleViolations)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("dashboard listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.requests.WithLabelValues(r.URL.Path, statusClass(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess := s.controller.Current()
	if sess == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active session"})
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	sess := s.controller.Current()
	if sess == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active session"})
		return
	}
	writeJSON(w, http.StatusOK, sess.Features)
}

func (s *Server) handleFeature(w http.ResponseWriter, r *http.Request) {
	sess := s.controller.Current()
	if sess == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active session"})
		return
	}
	id := chi.URLParam(r, "id")
	for _, f := range sess.Features {
		if f.ID == id {
			writeJSON(w, http.StatusOK, f)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown feature"})
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	sess := s.controller.Current()
	if sess == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active session"})
		return
	}
	writeJSON(w, http.StatusOK, sess.Workers)
}

func (s *Server) handleProtocols(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.ListProtocols())
}

func (s *Server) handleViolations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var matched []protocol.Violation
	for _, v := range s.registry.Violations() {
		if v.ProtocolID == id {
			matched = append(matched, v)
		}
	}
	writeJSON(w, http.StatusOK, matched)
}
