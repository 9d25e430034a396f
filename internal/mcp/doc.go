// Package mcp implements the Model Context Protocol (MCP) server for threadqa.
//
// The server exposes two tools to MCP clients:
//   - ask: Answer a question from the archive with citations
//   - archive_status: Report archive statistics and index health
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout carries protocol messages only, so logs go to stderr.
//
// # Basic Usage
//
//	threadqa serve
//
// # Tool: ask
//
//	Request:
//	{
//	  "name": "ask",
//	  "arguments": {
//	    "question": "Why are coroutine frames heap allocated?",
//	    "date_from": "2023-01-01",
//	    "date_to": "2024-06-30",
//	    "author": "smith"
//	  }
//	}
//
//	Response:
//	{
//	  "answer": "...",
//	  "citations": [
//	    {
//	      "message_id": "<abc@lists.isocpp.org>",
//	      "subject": "Re: Coroutine allocation",
//	      "author": "John Smith",
//	      "date": "2024-03-01T13:00:00Z",
//	      "excerpt": "Not always. HALO can elide...",
//	      "source_url": "https://lists.isocpp.org/std-proposals/2024/03/",
//	      "score": 0.94
//	    }
//	  ],
//	  "thread_ids": ["<root@lists.isocpp.org>"],
//	  "query_id": "0b6e..."
//	}
//
// Dates accept RFC 3339 or YYYY-MM-DD. A bare date_to includes the whole day.
//
// # Error Handling
//
// Errors are returned as MCPError values carrying JSON-RPC codes:
//
//	-32602  Invalid params (question length, malformed date, reversed range)
//	-32603  Internal error
//	-32001  Synthesis failed; data.retryable is true
//	-32004  Question missing or empty
package mcp
