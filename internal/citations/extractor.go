// Package citations ranks the messages shown to the model and formats the top ones as sources.
package citations

import (
	"sort"
	"strings"

	"github.com/dshills/threadqa-mcp/pkg/types"
)

const (
	// DefaultMaxCitations is the number of citations returned
	DefaultMaxCitations = 5
	// DefaultExcerptChars bounds each excerpt, in runes
	DefaultExcerptChars = 200
	// AuthorBonus is added when the answer names a message's author
	AuthorBonus = 0.2
)

// Extractor scores candidate messages against the answer text
type Extractor struct {
	MaxCitations int
	ExcerptChars int
}

// NewExtractor creates an extractor with default limits
func NewExtractor() *Extractor {
	return &Extractor{
		MaxCitations: DefaultMaxCitations,
		ExcerptChars: DefaultExcerptChars,
	}
}

// Extract returns up to MaxCitations citations, highest score first.
// Candidates keep their hybrid score; expansion-only messages start at zero.
func (e *Extractor) Extract(answer string, candidates []types.ScoredMessage) []types.Citation {
	if len(candidates) == 0 {
		return []types.Citation{}
	}

	lowerAnswer := strings.ToLower(answer)
	mentioned := make(map[string]bool)

	type scoredCandidate struct {
		msg   *types.ScoredMessage
		score float64
	}
	scored := make([]scoredCandidate, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		score := c.Score

		author := strings.TrimSpace(c.AuthorName)
		if author != "" {
			key := strings.ToLower(author)
			hit, seen := mentioned[key]
			if !seen {
				hit = strings.Contains(lowerAnswer, key)
				mentioned[key] = hit
			}
			if hit {
				score += AuthorBonus
			}
		}

		scored = append(scored, scoredCandidate{msg: c, score: clamp(score)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	limit := e.MaxCitations
	if limit <= 0 {
		limit = DefaultMaxCitations
	}
	if len(scored) > limit {
		scored = scored[:limit]
	}

	out := make([]types.Citation, 0, len(scored))
	for _, s := range scored {
		out = append(out, types.Citation{
			MessageID: s.msg.ID,
			Subject:   s.msg.Subject,
			Author:    s.msg.AuthorName,
			Date:      s.msg.SentAt,
			Excerpt:   Excerpt(s.msg.Body(), e.excerptChars()),
			SourceURL: s.msg.SourceURL,
			Score:     s.score,
		})
	}
	return out
}

func (e *Extractor) excerptChars() int {
	if e.ExcerptChars <= 0 {
		return DefaultExcerptChars
	}
	return e.ExcerptChars
}

// Excerpt collapses whitespace and keeps the first limit runes
func Excerpt(body string, limit int) string {
	collapsed := strings.Join(strings.Fields(body), " ")
	runes := []rune(collapsed)
	if len(runes) <= limit {
		return collapsed
	}
	return strings.TrimSpace(string(runes[:limit]))
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
