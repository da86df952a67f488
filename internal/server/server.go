// Package server serves the generated GeoJSON files read-only.
package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/geodekking/pakketpunten/internal/metrics"
	"github.com/geodekking/pakketpunten/internal/municipality"
	"github.com/geodekking/pakketpunten/internal/output"
)

const geoJSONType = "application/geo+json"

// Server resolves municipality references to files in dir.
type Server struct {
	dir         string
	summaryFile string
	list        []municipality.Municipality
	metrics     *metrics.Metrics
	log         *zap.Logger
}

// New creates a file server over dir. m may be nil.
func New(dir, summaryFile string, list []municipality.Municipality, m *metrics.Metrics) *Server {
	return &Server{
		dir:         dir,
		summaryFile: summaryFile,
		list:        list,
		metrics:     m,
		log:         zap.L().With(zap.String("component", "server")),
	}
}

// Router returns the HTTP handler.
func (s *Server) Router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	if s.metrics != nil {
		r.Use(s.observe)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/municipalities", s.listMunicipalities)
		r.Get("/municipalities/{ref}", s.getMunicipality)
		r.Get("/nederland", s.serveFile(output.NationalFile))
		r.Get("/nederland/boundaries", s.serveFile(output.BoundariesFile))
		r.Get("/summary", s.getSummary)
	})
	return r
}

type municipalityEntry struct {
	Name        string     `json:"name"`
	Slug        string     `json:"slug"`
	Code        string     `json:"code,omitempty"`
	Available   bool       `json:"available"`
	GeneratedAt *time.Time `json:"file_modified_at,omitempty"`
}

func (s *Server) listMunicipalities(w http.ResponseWriter, _ *http.Request) {
	out := make([]municipalityEntry, 0, len(s.list))
	for _, m := range s.list {
		e := municipalityEntry{Name: m.Name, Slug: m.Slug, Code: m.Code}
		if fi, err := os.Stat(s.path(output.FileName(m.Slug))); err == nil {
			mod := fi.ModTime().UTC()
			e.Available = true
			e.GeneratedAt = &mod
		}
		out = append(out, e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"municipalities": out, "count": len(out)})
}

func (s *Server) getMunicipality(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	m, ok := s.lookup(ref)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown municipality: " + ref})
		return
	}
	s.serveFile(output.FileName(m.Slug))(w, r)
}

// lookup accepts a slug, a name or a CBS code with or without the GM prefix.
func (s *Server) lookup(ref string) (municipality.Municipality, bool) {
	if m, ok := municipality.Find(s.list, ref); ok {
		return m, true
	}
	upper := strings.ToUpper(strings.TrimSpace(ref))
	if strings.HasPrefix(upper, "GM") {
		return municipality.Find(s.list, strings.TrimPrefix(upper, "GM"))
	}
	return municipality.Municipality{}, false
}

func (s *Server) getSummary(w http.ResponseWriter, _ *http.Request) {
	data, err := os.ReadFile(s.path(s.summaryFile))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no summary available"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck
}

func (s *Server) serveFile(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := s.path(name)
		f, err := os.Open(path)
		if err != nil {
			if !os.IsNotExist(err) {
				s.log.Error("open output file", zap.String("file", name), zap.Error(err))
			}
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not generated: " + name})
			return
		}
		defer f.Close() //nolint:errcheck

		fi, err := f.Stat()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "stat failed"})
			return
		}
		w.Header().Set("Content-Type", geoJSONType)
		http.ServeContent(w, r, name, fi.ModTime(), f)
	}
}

func (s *Server) path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.metrics.ObserveRequest(route, ww.Status())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
