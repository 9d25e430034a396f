package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"github.com/dshills/threadqa-mcp/internal/llm"
	"github.com/dshills/threadqa-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams   = -32602 // Invalid method parameters
	ErrorCodeInternalError   = -32603 // Internal JSON-RPC error
	ErrorCodeSynthesisFailed = -32001 // The language model could not produce an answer
	ErrorCodeEmptyQuestion   = -32004 // Question parameter is empty
)

// handleAsk handles the ask tool invocation
func (s *Server) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	question, ok := args["question"].(string)
	if !ok || question == "" {
		return nil, newMCPError(ErrorCodeEmptyQuestion, "question parameter is required and cannot be empty", map[string]interface{}{
			"param":  "question",
			"reason": "missing or empty",
		})
	}

	filters, err := types.ParseFilters(
		getStringDefault(args, "date_from", ""),
		getStringDefault(args, "date_to", ""),
		getStringDefault(args, "author", ""),
	)
	if err != nil {
		return nil, validationMCPError(err)
	}

	result, err := s.asker.Ask(ctx, question, filters)
	if err != nil {
		var synthErr *llm.SynthesisError
		switch {
		case errors.Is(err, types.ErrInvalidInput):
			return nil, validationMCPError(err)
		case errors.As(err, &synthErr):
			return nil, newMCPError(ErrorCodeSynthesisFailed, "the language model could not answer right now", map[string]interface{}{
				"retryable": synthErr.Retryable(),
				"provider":  synthErr.Provider,
			})
		default:
			zerolog.Ctx(ctx).Error().Err(err).Msg("ask_failed")
			return nil, newMCPError(ErrorCodeInternalError, "ask failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	if err := result.Validate(); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("ask_malformed_result")
		return nil, newMCPError(ErrorCodeInternalError, "ask failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(answerResponse(result))), nil
}

// handleArchiveStatus handles the archive_status tool invocation
func (s *Server) handleArchiveStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.status.GetStatus(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"statistics": map[string]interface{}{
			"messages_count":   status.MessagesCount,
			"threads_count":    status.ThreadsCount,
			"authors_count":    status.AuthorsCount,
			"embeddings_count": status.EmbeddingsCount,
			"index_size_mb":    fmt.Sprintf("%.2f", status.IndexSizeMB),
			"schema_version":   status.SchemaVersion,
		},
		"health": map[string]interface{}{
			"database_accessible":  status.Health.DatabaseAccessible,
			"embeddings_available": status.Health.EmbeddingsAvailable,
			"fts_indexes_built":    status.Health.FTSIndexesBuilt,
		},
	}
	if !status.OldestMessage.IsZero() {
		response["date_range"] = map[string]interface{}{
			"oldest": status.OldestMessage.Format(time.RFC3339),
			"newest": status.NewestMessage.Format(time.RFC3339),
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// answerResponse shapes an answer for the tool result
func answerResponse(result *types.AnswerResult) map[string]interface{} {
	citations := make([]map[string]interface{}, 0, len(result.Citations))
	for _, c := range result.Citations {
		citation := map[string]interface{}{
			"message_id": c.MessageID,
			"subject":    c.Subject,
			"author":     c.Author,
			"date":       c.Date.Format(time.RFC3339),
			"excerpt":    c.Excerpt,
			"score":      c.Score,
		}
		if c.SourceURL != "" {
			citation["source_url"] = c.SourceURL
		}
		citations = append(citations, citation)
	}

	threadIDs := result.ThreadIDs
	if threadIDs == nil {
		threadIDs = []string{}
	}

	response := map[string]interface{}{
		"answer":     result.Answer,
		"citations":  citations,
		"thread_ids": threadIDs,
		"query_id":   result.QueryID,
	}
	if result.Model != "" {
		response["model"] = result.Model
	}
	if result.Cached {
		response["cached"] = true
	}
	return response
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// validationMCPError maps a validation failure to invalid params
func validationMCPError(err error) error {
	data := map[string]interface{}{"reason": err.Error()}
	var verr *types.ValidationError
	if errors.As(err, &verr) {
		data["param"] = verr.Field
		data["reason"] = verr.Message
	}
	return newMCPError(ErrorCodeInvalidParams, err.Error(), data)
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
