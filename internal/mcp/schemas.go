package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// askTool returns the tool definition for ask
func askTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ask",
		Description: "Answer a question from the mailing-list archive, citing the messages the answer draws on",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"question": map[string]interface{}{
					"type":        "string",
					"description": "Natural-language question (3-1000 characters)",
					"minLength":   3,
					"maxLength":   1000,
				},
				"date_from": map[string]interface{}{
					"type":        "string",
					"description": "Only consider messages sent on or after this date (RFC 3339 or YYYY-MM-DD)",
				},
				"date_to": map[string]interface{}{
					"type":        "string",
					"description": "Only consider messages sent on or before this date (RFC 3339, or YYYY-MM-DD for the whole day)",
				},
				"author": map[string]interface{}{
					"type":        "string",
					"description": "Only consider messages whose author name contains this text (case-insensitive)",
				},
			},
			Required: []string{"question"},
		},
	}
}

// archiveStatusTool returns the tool definition for archive_status
func archiveStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "archive_status",
		Description: "Report message, thread, author and embedding counts and index health",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
