// Package prompt renders retrieved messages into the LLM context block.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dshills/threadqa-mcp/pkg/types"
)

const (
	// DefaultMaxMessages caps the messages rendered into one context
	DefaultMaxMessages = 20
	// DefaultMaxBodyChars caps each rendered body
	DefaultMaxBodyChars = 1500

	// TruncationMarker is appended to bodies cut at DefaultMaxBodyChars
	TruncationMarker = "\n[... truncated]"

	blockSeparator = "\n\n---\n\n"
	dateLayout     = "2006-01-02 15:04 UTC"
)

// Context is the rendered prompt context and the messages it contains
type Context struct {
	Text     string
	Messages []types.ScoredMessage
}

// Assembler orders, caps and renders messages
type Assembler struct {
	MaxMessages  int
	MaxBodyChars int
}

// NewAssembler returns an Assembler with the default limits
func NewAssembler() *Assembler {
	return &Assembler{MaxMessages: DefaultMaxMessages, MaxBodyChars: DefaultMaxBodyChars}
}

// Assemble sorts messages oldest first, keeps the first MaxMessages and
// renders one numbered block per message.
func (a *Assembler) Assemble(messages []types.ScoredMessage) *Context {
	maxMessages := a.MaxMessages
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}

	ordered := make([]types.ScoredMessage, len(messages))
	copy(ordered, messages)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SentAt.Before(ordered[j].SentAt)
	})
	if len(ordered) > maxMessages {
		ordered = ordered[:maxMessages]
	}

	blocks := make([]string, len(ordered))
	for i := range ordered {
		blocks[i] = a.renderBlock(i+1, &ordered[i].Message)
	}

	return &Context{
		Text:     strings.Join(blocks, blockSeparator),
		Messages: ordered,
	}
}

func (a *Assembler) renderBlock(n int, m *types.Message) string {
	var b strings.Builder

	author := m.AuthorName
	if strings.TrimSpace(author) == "" {
		author = "Unknown"
	}
	fmt.Fprintf(&b, "[%d] From: %s | Date: %s\n", n, author, m.SentAt.UTC().Format(dateLayout))
	fmt.Fprintf(&b, "Subject: %s\n", m.Subject)
	if m.SourceURL != "" {
		fmt.Fprintf(&b, "URL: %s\n", m.SourceURL)
	}
	b.WriteString("\n")
	b.WriteString(TruncateBody(strings.TrimSpace(m.Body()), a.maxBodyChars()))

	return b.String()
}

func (a *Assembler) maxBodyChars() int {
	if a.MaxBodyChars <= 0 {
		return DefaultMaxBodyChars
	}
	return a.MaxBodyChars
}

// TruncateBody cuts body to limit characters and appends TruncationMarker when cut
func TruncateBody(body string, limit int) string {
	if utf8.RuneCountInString(body) <= limit {
		return body
	}
	runes := []rune(body)
	return string(runes[:limit]) + TruncationMarker
}
