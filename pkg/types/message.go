package types

import (
	"strings"
	"time"
)

// Message is a single archived mailing-list post
type Message struct {
	// Identification
	ID         string   // Globally unique Message-ID, e.g. "<abc@host>"
	ParentID   string   // In-Reply-To, empty for thread roots
	References []string // Full References chain, oldest first

	// Headers
	Subject     string
	AuthorName  string // Empty when unknown
	AuthorEmail string // Obfuscated as published by the archive
	SentAt      time.Time

	// Content
	BodyClean      string // Body with quoted lines removed
	BodyNewContent string // Only the lines the author wrote

	// Location
	SourceURL   string
	MonthPeriod string // "YYYY/MM" archive bucket

	// Threading
	ThreadRootID string // Empty when threading is unknown
	ThreadDepth  int
}

// Body returns the text most useful for display and prompting:
// the author's new content when present, otherwise the cleaned body.
func (m *Message) Body() string {
	if strings.TrimSpace(m.BodyNewContent) != "" {
		return m.BodyNewContent
	}
	return m.BodyClean
}

// IsRoot reports whether the message starts its thread
func (m *Message) IsRoot() bool {
	return m.ThreadRootID == "" || m.ThreadRootID == m.ID
}

// ScoredMessage is a message returned by retrieval together with its scores
type ScoredMessage struct {
	Message

	// Vector search contribution
	Similarity float64 // Cosine similarity in [0, 1]
	InVector   bool

	// Lexical search contribution
	Rank      float64 // Provider-defined scale, larger is better
	InLexical bool

	// Score is the fused hybrid score assigned by the merger
	Score float64
}

// Filters narrows retrieval to a date range and/or author
type Filters struct {
	DateFrom *time.Time `json:"date_from,omitempty"`
	DateTo   *time.Time `json:"date_to,omitempty"`
	Author   string     `json:"author,omitempty"` // Case-insensitive substring of the author name
}

// IsZero reports whether no filter is set
func (f Filters) IsZero() bool {
	return f.DateFrom == nil && f.DateTo == nil && strings.TrimSpace(f.Author) == ""
}

// Validate checks that the date range is well formed
func (f Filters) Validate() error {
	if f.DateFrom != nil && f.DateTo != nil && f.DateFrom.After(*f.DateTo) {
		return &ValidationError{Field: "date_from", Message: "must not be after date_to"}
	}
	if len(f.Author) > MaxAuthorFilterLength {
		return &ValidationError{Field: "author", Message: "is too long"}
	}
	return nil
}

// MaxAuthorFilterLength bounds the author substring filter
const MaxAuthorFilterLength = 200
