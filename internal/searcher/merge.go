package searcher

import (
	"sort"

	"github.com/dshills/threadqa-mcp/internal/storage"
	"github.com/dshills/threadqa-mcp/pkg/types"
)

// MergeConfig weights the two branches in the hybrid score
type MergeConfig struct {
	VectorWeight  float64
	LexicalWeight float64
	TopK          int
}

// DefaultMergeConfig returns the standard 0.6/0.4 weighting with top 10
func DefaultMergeConfig() MergeConfig {
	return MergeConfig{VectorWeight: 0.6, LexicalWeight: 0.4, TopK: 10}
}

// Merge fuses vector and lexical matches into one ranked list.
//
// A vector match scores similarity*VectorWeight. A lexical match adds
// rank/max(maxRank, 1)*LexicalWeight. Ties keep insertion order: vector
// matches first in their order, then lexical-only matches in theirs.
func Merge(vector []storage.VectorResult, lexical []storage.TextResult, cfg MergeConfig) []types.ScoredMessage {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultMergeConfig().TopK
	}

	merged := make([]types.ScoredMessage, 0, len(vector)+len(lexical))
	index := make(map[string]int, len(vector)+len(lexical))

	for _, v := range vector {
		if v.Message == nil {
			continue
		}
		if _, seen := index[v.Message.ID]; seen {
			continue
		}
		index[v.Message.ID] = len(merged)
		merged = append(merged, types.ScoredMessage{
			Message:    *v.Message,
			Similarity: v.Similarity,
			InVector:   true,
			Score:      v.Similarity * cfg.VectorWeight,
		})
	}

	maxRank := 0.0
	for _, l := range lexical {
		if l.Rank > maxRank {
			maxRank = l.Rank
		}
	}
	denom := maxRank
	if denom < 1 {
		denom = 1
	}

	for _, l := range lexical {
		if l.Message == nil {
			continue
		}
		contribution := l.Rank / denom * cfg.LexicalWeight
		if i, ok := index[l.Message.ID]; ok {
			if merged[i].InLexical {
				continue
			}
			merged[i].Rank = l.Rank
			merged[i].InLexical = true
			merged[i].Score += contribution
			continue
		}
		index[l.Message.ID] = len(merged)
		merged = append(merged, types.ScoredMessage{
			Message:   *l.Message,
			Rank:      l.Rank,
			InLexical: true,
			Score:     contribution,
		})
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})

	if len(merged) > cfg.TopK {
		merged = merged[:cfg.TopK]
	}
	return merged
}
