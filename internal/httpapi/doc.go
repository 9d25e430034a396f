// Package httpapi exposes the answer pipeline as a small JSON API.
//
// Routes:
//
//	POST /api/ask   {"question": "...", "filters": {"date_from", "date_to", "author"}}
//	GET  /healthz   archive reachability and counts
//	GET  /metrics   Prometheus exposition, when metrics are enabled
//
// Requests under /api are rate limited per client address. Validation
// failures answer 400, rate limiting 429 with Retry-After, and a model
// outage 503 with Retry-After.
package httpapi
