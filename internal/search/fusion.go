// Package search fuses independently-ranked keyword and vector search
// results into a single ranking using Reciprocal Rank Fusion, then
// carries that ranking through reranking, graph expansion, and
// token-budgeted context assembly.
package search

import (
	"sort"

	"github.com/opzero1/codeintel/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
// k=60 is empirically validated across domains (used by Azure AI Search, OpenSearch, etc.).
const DefaultRRFConstant = 60

// FusedResult represents a single result after RRF fusion.
type FusedResult struct {
	ChunkID      string   // Content identifier (symbol, chunk, or file ID)
	RRFScore     float64  // Combined RRF score (normalized 0-1)
	BM25Score    float64  // Original BM25 score (preserved)
	BM25Rank     int      // Position in BM25 list (1-indexed, 0 if absent)
	VecScore     float64  // Original vector similarity score (preserved)
	VecRank      int      // Position in vector list (1-indexed, 0 if absent)
	InBothLists  bool     // Document appeared in both result lists
	MatchedTerms []string // BM25 matched terms (for highlighting)
}

// RRFFusion combines BM25 and vector search results using Reciprocal Rank
// Fusion, enforcing the engine-wide minimum vector similarity before a
// vector hit is allowed to contribute to the fused ranking at all.
//
// Algorithm: RRF_score(d) = Σ weight_i / (k + rank_i)
type RRFFusion struct {
	K             int     // RRF smoothing constant (default: 60)
	SimilarityMin float32 // vector hits below this are dropped before fusion
}

// NewRRFFusion creates a new RRF fusion instance with default k=60 and the
// package-wide vector similarity floor.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant, SimilarityMin: store.MinSimilarity}
}

// NewRRFFusionWithK creates a new RRF fusion with custom k value.
// If k <= 0, defaults to 60.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k, SimilarityMin: store.MinSimilarity}
}

// Fuse combines BM25 and vector results using Reciprocal Rank Fusion.
//
// Vector hits below f.SimilarityMin are discarded before they enter the
// fused ranking, so a long tail of barely-related embeddings can't dilute
// a strong keyword match; this floor has no analogue in a plain RRF merge
// and exists specifically because HNSW's approximate search can return
// low-similarity neighbors when a true match simply doesn't exist.
//
// Documents appearing in only one list use missing_rank = max(len(bm25), len(vec)) + 1
// for the missing source's contribution.
//
// Results are sorted by: RRFScore (desc) → InBothLists (true first) → BM25Score (desc) → ChunkID (asc)
func (f *RRFFusion) Fuse(
	bm25 []*store.KeywordResult,
	vec []*store.VectorResult,
	weights Weights,
) []*FusedResult {
	if len(bm25) == 0 && len(vec) == 0 {
		return []*FusedResult{}
	}

	floor := f.SimilarityMin
	if floor == 0 {
		floor = store.MinSimilarity
	}
	filteredVec := make([]*store.VectorResult, 0, len(vec))
	for _, v := range vec {
		if v.Similarity >= floor {
			filteredVec = append(filteredVec, v)
		}
	}

	capacity := len(bm25) + len(filteredVec)
	scores := make(map[string]*FusedResult, capacity)

	for rank, r := range bm25 {
		result := f.getOrCreate(scores, r.ContentID)
		result.BM25Score = r.Score
		result.BM25Rank = rank + 1
		result.MatchedTerms = r.MatchedTerms
		result.RRFScore += weights.BM25 / float64(f.K+rank+1)
	}

	for rank, r := range filteredVec {
		result := f.getOrCreate(scores, r.ID)
		result.VecScore = float64(r.Similarity)
		result.VecRank = rank + 1
		result.RRFScore += weights.Semantic / float64(f.K+rank+1)

		if result.BM25Rank > 0 {
			result.InBothLists = true
		}
	}

	missingRank := f.calculateMissingRank(len(bm25), len(filteredVec))
	for _, r := range scores {
		if r.BM25Rank == 0 && r.VecRank > 0 {
			r.RRFScore += weights.BM25 / float64(f.K+missingRank)
		}
		if r.VecRank == 0 && r.BM25Rank > 0 {
			r.RRFScore += weights.Semantic / float64(f.K+missingRank)
		}
	}

	results := f.toSortedSlice(scores)
	f.normalize(results)
	return results
}

func (f *RRFFusion) getOrCreate(m map[string]*FusedResult, id string) *FusedResult {
	if r, ok := m[id]; ok {
		return r
	}
	r := &FusedResult{ChunkID: id}
	m[id] = r
	return r
}

func (f *RRFFusion) calculateMissingRank(bm25Len, vecLen int) int {
	if bm25Len > vecLen {
		return bm25Len + 1
	}
	return vecLen + 1
}

func (f *RRFFusion) toSortedSlice(m map[string]*FusedResult) []*FusedResult {
	results := make([]*FusedResult, 0, len(m))
	for _, r := range m {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		return f.compare(results[i], results[j])
	})
	return results
}

// compare implements deterministic comparison for sorting.
func (f *RRFFusion) compare(a, b *FusedResult) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}
	if a.InBothLists != b.InBothLists {
		return a.InBothLists
	}
	if a.BM25Score != b.BM25Score {
		return a.BM25Score > b.BM25Score
	}
	return a.ChunkID < b.ChunkID
}

// normalize scales all RRF scores to 0-1 range using the top score as the
// reference, so downstream confidence scoring isn't sensitive to how many
// channels contributed to a given query.
func (f *RRFFusion) normalize(results []*FusedResult) {
	if len(results) == 0 {
		return
	}
	maxScore := results[0].RRFScore
	if maxScore == 0 {
		return
	}
	for _, r := range results {
		r.RRFScore = r.RRFScore / maxScore
	}
}

// OverlapRatio reports the fraction of fused results that both the
// keyword and vector channels agreed on. ComputeConfidence does not use
// it: its agreement term is derived from the per-channel hit counts only.
func OverlapRatio(results []*FusedResult) float64 {
	if len(results) == 0 {
		return 0
	}
	both := 0
	for _, r := range results {
		if r.InBothLists {
			both++
		}
	}
	return float64(both) / float64(len(results))
}
