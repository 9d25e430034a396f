// Package types provides shared type definitions for the threadqa MCP server.
//
// These types cross package boundaries: storage returns them, the answer
// pipeline scores and assembles them, and the MCP and HTTP surfaces encode
// them as JSON.
//
// # Core Types
//
// Message is one archived post. It is immutable once ingested:
//
//	msg := types.Message{
//	    ID:           "<abc123@lists.example.org>",
//	    ParentID:     "<root@lists.example.org>",
//	    Subject:      "Re: [std-proposals] Why was P1234 rejected?",
//	    AuthorName:   "Jane Doe",
//	    ThreadRootID: "<root@lists.example.org>",
//	    ThreadDepth:  1,
//	}
//
// ScoredMessage wraps a Message with the similarity (vector), rank (lexical)
// and fused hybrid score produced during retrieval.
//
// # Results
//
// AnswerResult is the only externally visible output of a question:
//
//	result := &types.AnswerResult{
//	    Answer:    "The committee rejected it because ...",
//	    Citations: citations,
//	    ThreadIDs: []string{"<root@lists.example.org>"},
//	    QueryID:   "0b7c1f0e-...",
//	}
//
// Citation scores are normalized to the [0, 1] range.
//
// # Validation
//
// Invalid caller input is reported as *ValidationError, which matches
// ErrInvalidInput under errors.Is:
//
//	if errors.Is(err, types.ErrInvalidInput) {
//	    // 400 Bad Request
//	}
package types
