package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/opzero1/codeintel/internal/embed"
	"github.com/opzero1/codeintel/internal/graph"
	"github.com/opzero1/codeintel/internal/store"
)

// QueryGranularity selects which kind of content a smart query hydrates.
type QueryGranularity string

const (
	GranularityAuto   QueryGranularity = "auto"
	GranularitySymbol QueryGranularity = "symbol"
	GranularityChunk  QueryGranularity = "chunk"
	GranularityFile   QueryGranularity = "file"
)

// QueryOptions is the input contract for the query orchestrator (§4.5.9
// of the retrieval design): a query may be given as free text, a
// precomputed embedding, or both.
type QueryOptions struct {
	QueryText           string
	Embedding           []float32
	Branch              string
	MaxTokens           int
	GraphDepth          int
	MaxFanOut           int
	ConfidenceThreshold float64
	Rerank              RerankMode
	Granularity         QueryGranularity
	PathPrefix          string
	FilePatterns        []string
	SymbolTypes         []store.SymbolType
}

// DefaultQueryOptions mirrors the orchestrator's documented defaults.
func DefaultQueryOptions() QueryOptions {
	return QueryOptions{
		Branch:              store.DefaultBranch,
		MaxTokens:           8000,
		GraphDepth:          2,
		MaxFanOut:           10,
		ConfidenceThreshold: 0.5,
		Rerank:              RerankNone,
		Granularity:         GranularityAuto,
	}
}

// QueryMetadata reports the orchestrator's internal decisions for a
// completed query, for observability and debugging.
type QueryMetadata struct {
	CandidateLimit int
	VectorHits     int
	KeywordHits    int
	FusedOverlap   int
	Scope          string
	Timings        map[string]time.Duration
}

// QueryResult is the end-to-end result of a smart query.
type QueryResult struct {
	Context    AssembledContext
	Confidence store.ConfidenceDiagnostics
	Metadata   QueryMetadata
}

// Orchestrator runs the full hybrid-retrieval pipeline: adaptive
// candidate sizing, concurrent vector+keyword search, RRF fusion,
// symbol hydration, optional rerank, graph expansion, token-budgeted
// context assembly, and confidence scoring.
type Orchestrator struct {
	Metadata     store.MetadataStore
	Keyword      store.KeywordIndex
	Vector       store.VectorStore
	Embedder     embed.Embedder
	CrossEncoder Reranker
}

// Query runs the pipeline described in the retrieval design's query
// orchestrator section and returns an empty, low-confidence result if
// neither a query text nor a precomputed embedding is supplied.
func (o *Orchestrator) Query(ctx context.Context, opts QueryOptions) (*QueryResult, error) {
	timings := make(map[string]time.Duration)
	branch := opts.Branch
	if branch == "" {
		branch = store.DefaultBranch
	}

	embedding := opts.Embedding
	if len(embedding) == 0 && opts.QueryText != "" && o.Embedder != nil {
		start := time.Now()
		v, err := o.Embedder.Embed(ctx, opts.QueryText)
		timings["embed"] = time.Since(start)
		if err == nil {
			embedding = v
		}
	}

	if opts.QueryText == "" && len(embedding) == 0 {
		return &QueryResult{
			Confidence: store.ConfidenceDiagnostics{Tier: "low", TierReason: "no query text or embedding supplied"},
			Metadata:   QueryMetadata{Scope: opts.PathPrefix, Timings: timings},
		}, nil
	}

	limit := AdaptiveRetrievalLimit(opts.QueryText, opts.PathPrefix, opts.FilePatterns, opts.MaxTokens)

	type kwOutcome struct {
		results []*store.KeywordResult
		err     error
	}
	type vecOutcome struct {
		results []*store.VectorResult
		err     error
	}
	kwCh := make(chan kwOutcome, 1)
	vecCh := make(chan vecOutcome, 1)

	start := time.Now()
	go func() {
		if opts.QueryText == "" || o.Keyword == nil {
			kwCh <- kwOutcome{}
			return
		}
		res, err := o.Keyword.Search(ctx, opts.QueryText, store.KeywordSearchOptions{
			Limit:        limit,
			RawQuery:     opts.QueryText,
			PathPrefix:   opts.PathPrefix,
			FilePatterns: opts.FilePatterns,
		})
		kwCh <- kwOutcome{results: res, err: err}
	}()
	go func() {
		if len(embedding) == 0 || o.Vector == nil {
			vecCh <- vecOutcome{}
			return
		}
		res, err := o.Vector.Search(ctx, embedding, limit)
		vecCh <- vecOutcome{results: res, err: err}
	}()

	kw := <-kwCh
	vec := <-vecCh
	timings["retrieve"] = time.Since(start)
	if kw.err != nil {
		return nil, fmt.Errorf("orchestrator: keyword search: %w", kw.err)
	}
	if vec.err != nil {
		return nil, fmt.Errorf("orchestrator: vector search: %w", vec.err)
	}

	fused := NewRRFFusion().Fuse(kw.results, vec.results, DefaultWeights())

	candidateIDs := make([]string, len(fused))
	for i, f := range fused {
		candidateIDs[i] = f.ChunkID
	}

	start = time.Now()
	symbolsByID, err := hydrateSymbols(ctx, o.Metadata, candidateIDs, branch, opts.SymbolTypes)
	timings["hydrate"] = time.Since(start)
	if err != nil {
		return nil, err
	}

	ordered := make([]*store.Symbol, 0, len(fused))
	rerankCandidates := make([]RerankCandidate, 0, len(fused))
	for _, f := range fused {
		sym, ok := symbolsByID[f.ChunkID]
		if !ok {
			continue
		}
		ordered = append(ordered, sym)
		rerankCandidates = append(rerankCandidates, RerankCandidate{
			ContentID:    sym.ID,
			FilePath:     sym.FilePath,
			Content:      sym.Content,
			Granularity:  store.GranularitySymbol,
			InitialScore: f.RRFScore,
		})
	}

	if opts.Rerank != RerankNone && opts.QueryText != "" && len(rerankCandidates) > 0 {
		reranked := ApplyRerank(ctx, opts.Rerank, opts.QueryText, rerankCandidates, o.CrossEncoder)
		ordered = reorderSymbols(ordered, reranked)
	}

	var expansion *graph.ExpansionResult
	if o.Metadata != nil && len(ordered) > 0 {
		seedCount := 5
		if seedCount > len(ordered) {
			seedCount = len(ordered)
		}
		start = time.Now()
		expansion, err = graph.Expand(ctx, o.Metadata, ordered[:seedCount], graph.ExpandOptions{
			Depth:               opts.GraphDepth,
			MaxFanOut:           opts.MaxFanOut,
			ConfidenceThreshold: opts.ConfidenceThreshold,
			Branch:              branch,
		})
		timings["graph_expand"] = time.Since(start)
		if err != nil {
			return nil, err
		}
	}

	finalSymbols := ordered
	var edges []*store.Edge
	if expansion != nil {
		finalSymbols = mergeSymbolSets(ordered, expansion.Symbols)
		edges = expansion.Edges
	}

	assembled := AssembleContext(finalSymbols, edges, opts.MaxTokens)

	scores := make([]float64, len(fused))
	paths := make([]string, 0, len(assembled.SymbolsIncluded))
	for i, f := range fused {
		scores[i] = f.RRFScore
	}
	for _, s := range assembled.SymbolsIncluded {
		paths = append(paths, s.FilePath)
	}
	confidence := ComputeConfidence(ConfidenceInputs{
		VectorHits:  len(vec.results),
		KeywordHits: len(kw.results),
		FusedScores: scores,
		FilePaths:   paths,
	})

	return &QueryResult{
		Context:    assembled,
		Confidence: confidence,
		Metadata: QueryMetadata{
			CandidateLimit: limit,
			VectorHits:     len(vec.results),
			KeywordHits:    len(kw.results),
			FusedOverlap:   countOverlap(fused),
			Scope:          opts.PathPrefix,
			Timings:        timings,
		},
	}, nil
}

// AdaptiveRetrievalLimit implements §4.5.5: a per-query candidate count
// scaled by query length, path scoping, and requested token budget.
func AdaptiveRetrievalLimit(queryText, pathPrefix string, filePatterns []string, maxTokens int) int {
	const baseLimit = 20
	const defaultTokens = 8000

	base := float64(baseLimit)
	wordCount := len(strings.Fields(queryText))
	switch {
	case wordCount <= 2:
		base *= 0.75
	case wordCount >= 6:
		base *= 1.5
	}

	if pathPrefix != "" || len(filePatterns) > 0 {
		base *= 1.25
	}

	if maxTokens > defaultTokens {
		ratio := float64(maxTokens) / float64(defaultTokens)
		if ratio > 2 {
			ratio = 2
		}
		base *= sqrt(ratio)
	}

	limit := int(base)
	if limit < 10 {
		limit = 10
	}
	if limit > 75 {
		limit = 75
	}
	return limit
}

func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 20; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

func hydrateSymbols(ctx context.Context, metadata store.MetadataStore, ids []string, branch string, types []store.SymbolType) (map[string]*store.Symbol, error) {
	if metadata == nil || len(ids) == 0 {
		return nil, nil
	}
	symbols, err := metadata.GetSymbols(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate symbols: %w", err)
	}
	allowed := make(map[store.SymbolType]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	out := make(map[string]*store.Symbol, len(symbols))
	for _, s := range symbols {
		if len(allowed) > 0 && !allowed[s.Type] {
			continue
		}
		out[s.ID] = s
	}
	return out, nil
}

func reorderSymbols(symbols []*store.Symbol, reranked []RerankCandidate) []*store.Symbol {
	byID := make(map[string]*store.Symbol, len(symbols))
	for _, s := range symbols {
		byID[s.ID] = s
	}
	out := make([]*store.Symbol, 0, len(reranked))
	for _, r := range reranked {
		if s, ok := byID[r.ContentID]; ok {
			out = append(out, s)
		}
	}
	return out
}

func mergeSymbolSets(primary, expanded []*store.Symbol) []*store.Symbol {
	seen := make(map[string]bool, len(primary))
	out := make([]*store.Symbol, 0, len(primary)+len(expanded))
	for _, s := range primary {
		seen[s.ID] = true
		out = append(out, s)
	}
	sorted := make([]*store.Symbol, len(expanded))
	copy(sorted, expanded)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for _, s := range sorted {
		if !seen[s.ID] {
			seen[s.ID] = true
			out = append(out, s)
		}
	}
	return out
}

func countOverlap(fused []*FusedResult) int {
	n := 0
	for _, f := range fused {
		if f.InBothLists {
			n++
		}
	}
	return n
}
