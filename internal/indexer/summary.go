package indexer

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dshills/threadqa-mcp/internal/parser"
	"github.com/dshills/threadqa-mcp/pkg/types"
)

const (
	// SummaryMaxTokens caps the length of a generated thread summary
	SummaryMaxTokens = 512
	// SummaryContentBudget bounds the message text sent for one thread, in characters
	SummaryContentBudget = 12000
	// maxSummaryParticipants bounds the participant list in the prompt
	maxSummaryParticipants = 10
	// minTruncatedBody is the smallest remainder worth including when the budget runs out
	minTruncatedBody = 100
)

const summaryPromptTemplate = `You are summarizing a C++ standardization mailing list discussion thread.

Thread subject: %s
Number of emails: %d
Date range: %s to %s
Participants: %s

Email contents (new content only, no quoted text):
%s

Write a 3 to 5 sentence summary that covers:
1. What the thread is about
2. The main positions or arguments made
3. Whether consensus was reached or the discussion is ongoing
4. Any proposal numbers mentioned (like P1234 or P2300R1)

Be factual and concise. Do not editorialize.`

// BuildSummaryPrompt renders the summary request for one thread
func BuildSummaryPrompt(thread []*types.Message) string {
	sorted := make([]*types.Message, len(thread))
	copy(sorted, thread)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SentAt.Before(sorted[j].SentAt)
	})

	var names []string
	seen := make(map[string]bool)
	for _, m := range sorted {
		name := m.AuthorName
		if name == "" {
			name = parser.UnknownAuthor
		}
		if !seen[name] && len(names) < maxSummaryParticipants {
			seen[name] = true
			names = append(names, name)
		}
	}

	var parts []string
	total := 0
	for _, m := range sorted {
		author := m.AuthorName
		if author == "" {
			author = "?"
		}
		body := []rune(m.Body())
		if total+len(body) > SummaryContentBudget {
			if remaining := SummaryContentBudget - total; remaining > minTruncatedBody {
				parts = append(parts, fmt.Sprintf("[%s]: %s...", author, string(body[:remaining])))
			}
			break
		}
		parts = append(parts, fmt.Sprintf("[%s]: %s", author, string(body)))
		total += len(body)
	}

	var subject, start, end string
	if len(sorted) > 0 {
		subject = sorted[0].Subject
		start = sorted[0].SentAt.UTC().Format(time.RFC3339)
		end = sorted[len(sorted)-1].SentAt.UTC().Format(time.RFC3339)
	}

	return fmt.Sprintf(summaryPromptTemplate,
		subject,
		len(thread),
		start, end,
		strings.Join(names, ", "),
		strings.Join(parts, "\n\n---\n\n"),
	)
}

// ThreadProposals collects the proposal numbers mentioned across a thread
func ThreadProposals(thread []*types.Message) []string {
	var b strings.Builder
	for _, m := range thread {
		b.WriteString(m.Body())
		b.WriteByte(' ')
		b.WriteString(m.Subject)
		b.WriteByte(' ')
	}
	return parser.ExtractProposalNumbers(b.String())
}
