package services

import (
	"math"
	"sort"

	"github.com/Zeeeepa/ragforge-sub003/pkg/models"
)

const (
	// hybridBoostFactor scales the corroboration boost a semantic hit gets
	// from appearing in the lexical list.
	hybridBoostFactor = 0.3
	// lexicalOnlyMax is how many lexical-only hits are appended.
	lexicalOnlyMax = 3
	// lexicalOnlyStart and lexicalOnlyStep define their synthetic scores:
	// 0.40, 0.35, 0.30.
	lexicalOnlyStart = 0.40
	lexicalOnlyStep  = 0.05
)

// FuseResults merges semantic and lexical hits. A semantic hit also found
// lexically at 1-based rank r has its score multiplied by
// 1 + 0.3/sqrt(r). Up to three lexical-only hits are appended with synthetic
// scores. The result is sorted by score, filtered to minScore and truncated
// to limit. Inputs are not modified.
func FuseResults(semantic, lexical []models.SearchResult, minScore float64, limit int) []models.SearchResult {
	lexicalRank := make(map[string]int, len(lexical))
	for i, r := range lexical {
		if _, ok := lexicalRank[r.Key()]; !ok {
			lexicalRank[r.Key()] = i + 1
		}
	}

	fused := make([]models.SearchResult, 0, len(semantic)+lexicalOnlyMax)
	inSemantic := make(map[string]bool, len(semantic))
	for _, r := range semantic {
		if inSemantic[r.Key()] {
			continue
		}
		inSemantic[r.Key()] = true

		if rank, ok := lexicalRank[r.Key()]; ok {
			r.Score *= 1 + hybridBoostFactor/math.Sqrt(float64(rank))
			r.MatchedBy = models.MatchSourceHybrid
		} else {
			r.MatchedBy = models.MatchSourceSemantic
		}
		fused = append(fused, r)
	}

	appended := 0
	for _, r := range lexical {
		if appended == lexicalOnlyMax {
			break
		}
		if inSemantic[r.Key()] {
			continue
		}
		inSemantic[r.Key()] = true
		r.Score = lexicalOnlyStart - float64(appended)*lexicalOnlyStep
		r.MatchedBy = models.MatchSourceLexical
		fused = append(fused, r)
		appended++
	}

	return rankResults(fused, minScore, limit)
}

// rankResults sorts by descending score, drops hits below minScore and keeps
// at most limit. Ties are broken by name then key so output is stable.
func rankResults(results []models.SearchResult, minScore float64, limit int) []models.SearchResult {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Key() < b.Key()
	})

	out := results[:0]
	for _, r := range results {
		if r.Score >= minScore {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
