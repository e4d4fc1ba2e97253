// Package server exposes reconciliation sessions, the duplicates list, and
// analysis jobs over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/sells-group/dedupe-cli/internal/analysis"
	"github.com/sells-group/dedupe-cli/internal/monitoring"
	"github.com/sells-group/dedupe-cli/internal/session"
	"github.com/sells-group/dedupe-cli/pkg/dupapi"
)

// Options configures the HTTP API.
type Options struct {
	CORSOrigins []string
	Language    language.Tag
	// Stats serves GET /stats when set.
	Stats *monitoring.Collector
}

// Server holds the collaborators behind the HTTP API.
type Server struct {
	sessions *session.Manager
	analyses *analysis.Service
	client   dupapi.Client
	opts     Options
}

// New creates a Server.
func New(sessions *session.Manager, analyses *analysis.Service, client dupapi.Client, opts Options) *Server {
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.Language == language.Und {
		opts.Language = language.English
	}
	return &Server{sessions: sessions, analyses: analyses, client: client, opts: opts}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	if s.opts.Stats != nil {
		r.Get("/stats", s.stats)
	}

	r.Route("/duplicates", func(r chi.Router) {
		r.Get("/", s.listDuplicates)
		r.Get("/export", s.exportDuplicates)
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.openSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)
			r.Post("/select", s.selectField)
			r.Post("/select-all", s.selectAll)
			r.Post("/reset", s.resetSession)
			r.Put("/unmatched", s.toggleUnmatched)
			r.Get("/readiness", s.readiness)
			r.Post("/merge", s.mergeSession)
			r.Post("/ignore", s.ignoreSession)
			r.Get("/audit", s.sessionAudit)
			r.Get("/export", s.exportSession)
		})
	})

	r.Route("/analyses", func(r chi.Router) {
		r.Get("/", s.listAnalyses)
		r.Post("/", s.launchAnalysis)
		r.Get("/{id}", s.getAnalysis)
		r.Post("/{id}/relaunch", s.relaunchAnalysis)
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
