package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/threadqa-mcp/internal/llm"
	"github.com/dshills/threadqa-mcp/pkg/types"
)

const (
	// maxRequestBody bounds the JSON body of POST /api/ask
	maxRequestBody = 64 * 1024
	// SynthesisRetryAfter is suggested to clients when the model is unavailable
	SynthesisRetryAfter = 30 * time.Second
)

// AskRequest is the body of POST /api/ask
type AskRequest struct {
	Question string        `json:"question"`
	Filters  FilterRequest `json:"filters"`
}

// FilterRequest carries optional filters as strings (RFC 3339 or YYYY-MM-DD)
type FilterRequest struct {
	DateFrom string `json:"date_from,omitempty"`
	DateTo   string `json:"date_to,omitempty"`
	Author   string `json:"author,omitempty"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// HealthResponse is the body of GET /healthz
type HealthResponse struct {
	Status          string `json:"status"`
	Messages        int    `json:"messages"`
	Embeddings      int    `json:"embeddings"`
	SearchAvailable bool   `json:"search_available"`
}

type handlers struct {
	asker  Asker
	status StatusSource
}

func (h *handlers) ask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)

	var req AskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		logger.Warn().Err(err).Msg("invalid_request_body")
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	filters, err := types.ParseFilters(req.Filters.DateFrom, req.Filters.DateTo, req.Filters.Author)
	if err != nil {
		writeValidationError(w, err)
		return
	}

	result, err := h.asker.Ask(ctx, req.Question, filters)
	if err != nil {
		var synthErr *llm.SynthesisError
		switch {
		case errors.Is(err, types.ErrInvalidInput):
			writeValidationError(w, err)
		case errors.As(err, &synthErr):
			w.Header().Set("Retry-After", strconv.Itoa(int(SynthesisRetryAfter.Seconds())))
			writeError(w, http.StatusServiceUnavailable, ErrorResponse{
				Error:     "the language model could not answer right now",
				Retryable: synthErr.Retryable(),
			})
		default:
			logger.Error().Err(err).Msg("ask_failed")
			writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		}
		return
	}
	if err := result.Validate(); err != nil {
		logger.Error().Err(err).Msg("ask_malformed_result")
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	if result.Citations == nil {
		result.Citations = []types.Citation{}
	}
	if result.ThreadIDs == nil {
		result.ThreadIDs = []string{}
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	status, err := h.status.GetStatus(r.Context())
	if err != nil || !status.Health.DatabaseAccessible {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("health_check_failed")
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:          "ok",
		Messages:        status.MessagesCount,
		Embeddings:      status.EmbeddingsCount,
		SearchAvailable: status.Health.FTSIndexesBuilt || status.Health.EmbeddingsAvailable,
	})
}

func writeValidationError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var verr *types.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	writeError(w, http.StatusBadRequest, resp)
}

func writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
