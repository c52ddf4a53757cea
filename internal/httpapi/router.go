// Package httpapi wires spec.md's §6 HTTP control surface onto a
// chi.Router. It holds no business logic: every handler maps an
// internal/worker, internal/queue, internal/intelligence, or
// internal/export call straight to JSON and a status code.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/metabench/crawlfleet/internal/export"
	"github.com/metabench/crawlfleet/internal/intelligence"
	"github.com/metabench/crawlfleet/internal/queue"
	"github.com/metabench/crawlfleet/internal/store"
	"github.com/metabench/crawlfleet/internal/worker"
	"github.com/rs/zerolog"
)

// API holds the per-domain components the control surface fronts.
type API struct {
	domain       string
	ctx          context.Context
	worker       *worker.Worker
	queue        *queue.Queue
	store        *store.Store
	intelligence *intelligence.Intelligence
	export       export.Pipeline
	logger       zerolog.Logger
}

// New builds the API. ctx is the server's run context: POST /api/start
// launches the Worker's Run loop bound to it, so a server shutdown that
// cancels ctx also stops any in-flight crawl.
func New(ctx context.Context, domain string, w *worker.Worker, q *queue.Queue, s *store.Store, in *intelligence.Intelligence, exp export.Pipeline, logger zerolog.Logger) *API {
	return &API{domain: domain, ctx: ctx, worker: w, queue: q, store: s, intelligence: in, export: exp, logger: logger}
}

// NewRouter builds the chi.Router spec.md §6 describes.
func NewRouter(a *API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(a.logger))

	r.Get("/", a.handleIndex)
	r.Get("/api/status", a.handleStatus)
	r.Post("/api/start", a.handleStart)
	r.Post("/api/stop", a.handleStop)
	r.Post("/api/seed", a.handleSeed)
	r.Get("/api/urls", a.handleURLs)
	r.Get("/api/errors", a.handleErrors)
	r.Get("/api/export", a.handleExportFull)
	r.Get("/api/export/full", a.handleExportFull)
	r.Get("/api/export/batch", a.handleExportBatch)
	r.Get("/api/intelligence", a.handleGetIntelligence)
	r.Post("/api/intelligence", a.handlePostIntelligence)

	return r
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", middleware.GetReqID(r.Context())).
				Int("status", rw.Status()).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		})
	}
}
