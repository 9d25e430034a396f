package httpapi

import (
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/dshills/threadqa-mcp/internal/metrics"
	"github.com/dshills/threadqa-mcp/internal/ratelimit"
)

// rateLimit rejects clients over their per-minute budget with 429
func rateLimit(limiter ratelimit.Limiter, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := limiter.Allow(r.Context(), clientIP(r))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			m.RecordRateLimited()
			zerolog.Ctx(r.Context()).Warn().Str("client", clientIP(r)).Msg("rate_limited")

			seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeError(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
		})
	}
}

// clientIP returns the request's remote host without the port
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
