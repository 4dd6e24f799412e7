package search

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/opzero1/codeintel/internal/store"
)

// RerankMode selects the scoring strategy applied after RRF fusion.
type RerankMode string

const (
	RerankNone          RerankMode = "none"
	RerankHeuristic     RerankMode = "heuristic"
	RerankBM25          RerankMode = "bm25"
	RerankCrossEncoder  RerankMode = "cross-encoder"
)

// RerankResult represents a single reranked result.
type RerankResult struct {
	// Index is the original position in the input documents slice
	Index int
	// Score is the relevance score (0.0 to 1.0)
	Score float64
	// Document is the original document content
	Document string
}

// Reranker reranks search results using a cross-encoder model.
// Cross-encoders jointly encode query-document pairs for more accurate
// relevance scoring than bi-encoders, but at higher computational cost.
type Reranker interface {
	// Rerank scores and reorders documents by relevance to the query.
	// Returns results sorted by score descending.
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error)

	// Available checks if the reranker service is available
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// NoOpReranker is a reranker that returns results in original order.
// Used when RerankMode is "none".
type NoOpReranker struct{}

func (n *NoOpReranker) Rerank(_ context.Context, _ string, documents []string, topK int) ([]RerankResult, error) {
	results := make([]RerankResult, len(documents))
	for i, doc := range documents {
		results[i] = RerankResult{
			Index:    i,
			Score:    1.0 - float64(i)*0.01,
			Document: doc,
		}
	}
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func (n *NoOpReranker) Available(_ context.Context) bool { return true }
func (n *NoOpReranker) Close() error                      { return nil }

var _ Reranker = (*NoOpReranker)(nil)

// RerankCandidate is a fused result carrying the signals the heuristic
// and BM25 rerankers need: path, granularity, and the score RRF fusion
// already assigned, alongside the content to score against the query.
type RerankCandidate struct {
	ContentID   string
	FilePath    string
	Content     string
	Granularity store.Granularity
	InitialScore float64
}

// HeuristicReranker implements the "heuristic" rerank mode: a fast,
// embedding-free re-scoring pass that boosts exact substring and
// path-name matches, rewards token density, and lightly penalizes very
// long chunks so a handful of matching lines aren't drowned out by a
// large symbol body.
type HeuristicReranker struct{}

func NewHeuristicReranker() *HeuristicReranker {
	return &HeuristicReranker{}
}

// RerankCandidates reorders candidates in place according to the
// heuristic scoring rule and returns them sorted by final score
// descending. The sort is stable: candidates with equal final scores
// keep their relative fused order.
func (h *HeuristicReranker) RerankCandidates(query string, candidates []RerankCandidate) []RerankCandidate {
	lowerQuery := strings.ToLower(strings.TrimSpace(query))
	queryTokens := store.TokenizeCode(query)

	scored := make([]RerankCandidate, len(candidates))
	copy(scored, candidates)

	for i := range scored {
		c := &scored[i]
		score := c.InitialScore
		if score <= 0 {
			score = 0.5
		}

		lowerContent := strings.ToLower(c.Content)
		if lowerQuery != "" && strings.Contains(lowerContent, lowerQuery) {
			score *= 1.5
		}
		if lowerQuery != "" && strings.Contains(strings.ToLower(c.FilePath), lowerQuery) {
			score *= 1.2
		}

		score *= 1.0 + tokenDensityBoost(queryTokens, c.Content)

		if len(c.Content) > 2000 {
			penalty := 1.0 - float64(len(c.Content)-2000)/20000.0
			if penalty < 0.7 {
				penalty = 0.7
			}
			score *= penalty
		}

		switch c.Granularity {
		case store.GranularitySymbol:
			score *= 1.1
		case store.GranularityFile:
			score *= 0.9
		}

		c.InitialScore = score
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].InitialScore > scored[j].InitialScore
	})

	return normalizeCandidateScores(scored)
}

// tokenDensityBoost rewards candidates whose content contains a high
// proportion of the query's tokens, capped at +0.5 (i.e. up to ×1.5).
func tokenDensityBoost(queryTokens []string, content string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	contentTokens := make(map[string]bool)
	for _, t := range store.TokenizeCode(content) {
		contentTokens[t] = true
	}
	hits := 0
	for _, qt := range queryTokens {
		if contentTokens[qt] {
			hits++
		}
	}
	density := float64(hits) / float64(len(queryTokens))
	if density > 0.5 {
		density = 0.5
	}
	return density
}

// BM25Reranker implements the "bm25" rerank mode: scores each candidate
// against the query using the same BM25 formula the keyword index uses,
// then blends it with the fused initial score (0.4 initial + 0.6 bm25).
type BM25Reranker struct {
	config store.BM25Config
}

func NewBM25Reranker(config store.BM25Config) *BM25Reranker {
	return &BM25Reranker{config: config}
}

func (b *BM25Reranker) RerankCandidates(query string, candidates []RerankCandidate) []RerankCandidate {
	queryTokens := store.TokenizeCode(query)
	if len(queryTokens) == 0 || len(candidates) == 0 {
		return candidates
	}

	docTokens := make([][]string, len(candidates))
	avgLen := 0.0
	for i, c := range candidates {
		docTokens[i] = store.TokenizeCode(c.Content)
		avgLen += float64(len(docTokens[i]))
	}
	avgLen /= float64(len(candidates))
	if avgLen == 0 {
		avgLen = 1
	}

	df := make(map[string]int)
	for _, toks := range docTokens {
		seen := make(map[string]bool)
		for _, t := range toks {
			if !seen[t] {
				df[t]++
				seen[t] = true
			}
		}
	}
	n := float64(len(candidates))

	scored := make([]RerankCandidate, len(candidates))
	copy(scored, candidates)

	for i := range scored {
		bm25 := bm25Score(queryTokens, docTokens[i], df, n, avgLen, b.config)
		initial := scored[i].InitialScore
		scored[i].InitialScore = 0.4*initial + 0.6*bm25
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].InitialScore > scored[j].InitialScore
	})

	return normalizeCandidateScores(scored)
}

func bm25Score(queryTokens, docTokens []string, df map[string]int, n, avgLen float64, cfg store.BM25Config) float64 {
	tf := make(map[string]int)
	for _, t := range docTokens {
		tf[t]++
	}
	docLen := float64(len(docTokens))

	var score float64
	for _, qt := range queryTokens {
		f := float64(tf[qt])
		if f == 0 {
			continue
		}
		d := float64(df[qt])
		if d == 0 {
			d = 1
		}
		idf := math.Log(1 + (n-d+0.5)/(d+0.5))
		numerator := f * (cfg.K1 + 1)
		denominator := f + cfg.K1*(1-cfg.B+cfg.B*docLen/avgLen)
		score += idf * numerator / denominator
	}
	return score
}

// normalizeCandidateScores rescales scores into [0, 1] so rerank output
// is comparable across modes regardless of the raw score magnitude each
// strategy produces.
func normalizeCandidateScores(candidates []RerankCandidate) []RerankCandidate {
	if len(candidates) == 0 {
		return candidates
	}
	max := candidates[0].InitialScore
	min := candidates[0].InitialScore
	for _, c := range candidates {
		if c.InitialScore > max {
			max = c.InitialScore
		}
		if c.InitialScore < min {
			min = c.InitialScore
		}
	}
	spread := max - min
	if spread <= 0 {
		return candidates
	}
	for i := range candidates {
		candidates[i].InitialScore = (candidates[i].InitialScore - min) / spread
	}
	return candidates
}

// ApplyRerank dispatches to the configured rerank mode. It is the single
// entry point the query orchestrator calls after RRF fusion and before
// graph expansion. A cross-encoder failure degrades to identity order
// rather than failing the whole query.
func ApplyRerank(ctx context.Context, mode RerankMode, query string, candidates []RerankCandidate, crossEncoder Reranker) []RerankCandidate {
	switch mode {
	case RerankHeuristic:
		return NewHeuristicReranker().RerankCandidates(query, candidates)
	case RerankBM25:
		return NewBM25Reranker(store.DefaultBM25Config()).RerankCandidates(query, candidates)
	case RerankCrossEncoder:
		if crossEncoder == nil || !crossEncoder.Available(ctx) {
			return candidates
		}
		docs := make([]string, len(candidates))
		for i, c := range candidates {
			docs[i] = c.Content
		}
		results, err := crossEncoder.Rerank(ctx, query, docs, 0)
		if err != nil {
			return candidates
		}
		reordered := make([]RerankCandidate, 0, len(results))
		for _, r := range results {
			if r.Index < 0 || r.Index >= len(candidates) {
				continue
			}
			c := candidates[r.Index]
			c.InitialScore = r.Score
			reordered = append(reordered, c)
		}
		if len(reordered) == 0 {
			return candidates
		}
		return reordered
	default:
		return candidates
	}
}
