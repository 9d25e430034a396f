package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/dshills/threadqa-mcp/internal/metrics"
	"github.com/dshills/threadqa-mcp/internal/ratelimit"
	"github.com/dshills/threadqa-mcp/internal/storage"
	"github.com/dshills/threadqa-mcp/pkg/types"
)

// Asker answers a question over the archive
type Asker interface {
	Ask(ctx context.Context, question string, filters types.Filters) (*types.AnswerResult, error)
}

// StatusSource reports archive statistics
type StatusSource interface {
	GetStatus(ctx context.Context) (*storage.ArchiveStatus, error)
}

// Deps holds dependencies for the HTTP router
type Deps struct {
	Asker   Asker
	Status  StatusSource
	Limiter ratelimit.Limiter // Nil disables rate limiting
	Metrics *metrics.Metrics  // Nil disables /metrics and request metrics
	Logger  zerolog.Logger
}

// NewRouter creates the HTTP router
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggerMiddleware(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(deps.Metrics.Middleware(routePattern))

	h := &handlers{asker: deps.Asker, status: deps.Status}

	r.Route("/api", func(r chi.Router) {
		if deps.Limiter != nil {
			r.Use(rateLimit(deps.Limiter, deps.Metrics))
		}
		r.Post("/ask", h.ask)
	})
	r.Get("/healthz", h.health)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	return r
}

// routePattern labels metrics by chi route pattern rather than raw path
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

// loggerMiddleware puts a request-scoped zerolog logger in the context
func loggerMiddleware(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := base.With().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Logger()
			next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
		})
	}
}
