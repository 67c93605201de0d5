package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/podwatch/podwatch/internal/metrics"
	"github.com/podwatch/podwatch/internal/storage"
)

// Server exposes the accumulated metrics over HTTP. It is a pure reader: it
// never calls the upstream cluster and never mutates the registry. Concurrent
// requests are independent.
type Server struct {
	registry *metrics.Registry
	journal  *storage.Journal
	server   *http.Server
	log      *logrus.Entry
}

// New creates the API server. journal may be nil, in which case /events
// responds 404.
func New(registry *metrics.Registry, promReg *prometheus.Registry, journal *storage.Journal, addr string, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		registry: registry,
		journal:  journal,
		log:      log,
	}

	mux := http.NewServeMux()

	// A render failure must yield a server error with no partial body.
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{
		ErrorLog:      log,
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))

	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/events", s.handleEvents)

	// pprof profiling endpoints
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	// Every other path falls through to the mux's 404.

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"registry": map[string]any{
			"keys": s.registry.Len(),
		},
	}
	if s.journal != nil {
		stats["journal"] = s.journal.Stats()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.log.WithError(err).Error("server: failed to write stats response")
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.NotFound(w, r)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "server: invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.log.WithError(err).Error("server: failed to query journal")
		http.Error(w, "server: failed to query journal", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		s.log.WithError(err).Error("server: failed to write events response")
	}
}

// Serve runs the server on an already-bound listener. Binding up front keeps
// port conflicts a startup failure instead of a runtime one.
func (s *Server) Serve(ln net.Listener) error {
	s.log.WithField("addr", ln.Addr().String()).Info("server: listening")
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("server: shutting down")
	return s.server.Shutdown(ctx)
}
