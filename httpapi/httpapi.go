// Package httpapi serves the read-only status API of a running watch:
// per-site outcomes, stored snapshots, kept diff images, the audit trail
// and recorded metrics.
//
// Routes:
//
//	GET /healthz                 loop counters
//	GET /api/sites               last result of every site
//	GET /api/sites/{key}         last result of one site
//	GET /api/snapshots/{key}     stored body of one site
//	GET /api/diffs/{file}        kept "<key>_diff.png" image
//	GET /api/audit               audit entries (?url=&outcome=&limit=)
//	GET /api/metrics/{name}      datapoints (?since=RFC3339&limit=)
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/sitediff/horosafe"
	"github.com/hazyhaar/sitediff/monitor"
	"github.com/hazyhaar/sitediff/observability"
	"github.com/hazyhaar/sitediff/shield"
	"github.com/hazyhaar/sitediff/snapshot"
	"github.com/hazyhaar/sitediff/watch"
)

// StatusSource reports the last check of every site. *monitor.Detector
// implements it.
type StatusSource interface {
	Status() []monitor.Result
	StatusOf(key string) (monitor.Result, bool)
}

// Config wires a Server. Status is required; other sources are optional
// and their routes answer 404 when unset.
type Config struct {
	Status  StatusSource
	Store   snapshot.Store
	DataDir string
	Audit   *observability.SQLiteAudit
	Metrics *observability.Metrics
	Watch   *watch.Loop
	Logger  *slog.Logger
	// RateLimit, when set, limits every route outside its excluded
	// prefixes.
	RateLimit *shield.RateLimiter
}

// Server holds the API handlers.
type Server struct {
	cfg Config
}

// New creates a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Status == nil {
		return nil, errors.New("httpapi: status source is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{cfg: cfg}, nil
}

// Handler returns a router with the shield middleware and every route.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.Stack(s.cfg.Logger, s.cfg.RateLimit) {
		r.Use(mw)
	}
	s.RegisterHTTP(r)
	return r
}

// RegisterHTTP mounts the routes on r.
func (s *Server) RegisterHTTP(r chi.Router) {
	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/sites", s.handleSites)
		r.Get("/sites/{key}", s.handleSite)
		r.Get("/snapshots/{key}", s.handleSnapshot)
		r.Get("/diffs/{file}", s.handleDiff)
		r.Get("/audit", s.handleAudit)
		r.Get("/metrics/{name}", s.handleMetrics)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.cfg.Watch != nil {
		resp["watch"] = s.cfg.Watch.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSites(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Status.Status())
}

func (s *Server) handleSite(w http.ResponseWriter, r *http.Request) {
	res, ok := s.cfg.Status.StatusOf(chi.URLParam(r, "key"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown site"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no snapshot store"})
		return
	}
	snap, err := s.cfg.Store.Get(r.Context(), chi.URLParam(r, "key"))
	if errors.Is(err, snapshot.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no snapshot"})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "file")
	key, ok := strings.CutSuffix(file, "_diff.png")
	if !ok || key == "" || s.cfg.DataDir == "" {
		http.NotFound(w, r)
		return
	}
	path, err := horosafe.SafePath(s.cfg.DataDir, key+"_diff.png")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if _, err := os.Stat(path); err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	http.ServeFile(w, r, path)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Audit == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "audit database not configured"})
		return
	}
	q := r.URL.Query()
	entries, err := s.cfg.Audit.Query(r.Context(), observability.AuditFilter{
		URL:     q.Get("url"),
		Outcome: q.Get("outcome"),
		Limit:   queryInt(r, "limit", 100),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Metrics == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "metrics database not configured"})
		return
	}
	since := time.Now().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since: " + err.Error()})
			return
		}
		since = t
	}
	s.cfg.Metrics.Flush()
	points, err := s.cfg.Metrics.Query(r.Context(), chi.URLParam(r, "name"), since, queryInt(r, "limit", 500))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	shield.GetLogger(r.Context()).ErrorContext(r.Context(), "httpapi: request failed", "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
