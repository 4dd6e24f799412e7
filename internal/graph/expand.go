// Package graph implements edge-graph traversal over the symbol graph:
// bounded BFS expansion for query context and transitive dependent
// analysis for impact assessment.
package graph

import (
	"context"
	"fmt"

	"github.com/opzero1/codeintel/internal/store"
)

// ExpandOptions bounds a graph expansion pass.
type ExpandOptions struct {
	Depth              int
	MaxFanOut          int
	ConfidenceThreshold float64
	Branch             string
}

// DefaultExpandOptions mirrors the retrieval pipeline's defaults.
func DefaultExpandOptions() ExpandOptions {
	return ExpandOptions{
		Depth:               2,
		MaxFanOut:           10,
		ConfidenceThreshold: 0.5,
		Branch:              store.DefaultBranch,
	}
}

// ExpansionResult holds everything a BFS pass visited.
type ExpansionResult struct {
	Symbols []*store.Symbol
	Edges   []*store.Edge
}

// Expand runs a bidirectional BFS from seeds (typically the top-5
// hydrated symbols from a fused query) up to opts.Depth hops, following
// at most opts.MaxFanOut edges per node (outgoing and incoming combined) and dropping
// edges below opts.ConfidenceThreshold. Visited symbols and traversed
// edges are deduplicated by ID.
func Expand(ctx context.Context, metadata store.MetadataStore, seeds []*store.Symbol, opts ExpandOptions) (*ExpansionResult, error) {
	if opts.Depth > 3 {
		opts.Depth = 3
	}
	if opts.Depth < 0 {
		opts.Depth = 0
	}
	branch := opts.Branch
	if branch == "" {
		branch = store.DefaultBranch
	}

	visitedSymbols := make(map[string]*store.Symbol)
	visitedEdges := make(map[string]*store.Edge)
	frontier := make([]string, 0, len(seeds))

	for _, s := range seeds {
		if s == nil {
			continue
		}
		if _, ok := visitedSymbols[s.ID]; !ok {
			visitedSymbols[s.ID] = s
			frontier = append(frontier, s.ID)
		}
	}

	for hop := 0; hop < opts.Depth && len(frontier) > 0; hop++ {
		next := make([]string, 0)
		seenThisHop := make(map[string]bool)

		for _, id := range frontier {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}

			outgoing, err := metadata.GetEdgesFrom(ctx, id, branch)
			if err != nil {
				return nil, fmt.Errorf("graph expand: edges from %s: %w", id, err)
			}
			incoming, err := metadata.GetEdgesTo(ctx, id, branch)
			if err != nil {
				return nil, fmt.Errorf("graph expand: edges to %s: %w", id, err)
			}

			candidateEdges := filterByConfidence(outgoing, opts.ConfidenceThreshold)
			candidateEdges = append(candidateEdges, filterByConfidence(incoming, opts.ConfidenceThreshold)...)
			if len(candidateEdges) > opts.MaxFanOut {
				candidateEdges = candidateEdges[:opts.MaxFanOut]
			}

			for _, e := range candidateEdges {
				if _, ok := visitedEdges[e.ID]; !ok {
					visitedEdges[e.ID] = e
				}
				neighbor := e.TargetID
				if e.TargetID == id {
					neighbor = e.SourceID
				}
				if _, ok := visitedSymbols[neighbor]; !ok && !seenThisHop[neighbor] {
					seenThisHop[neighbor] = true
					next = append(next, neighbor)
				}
			}
		}

		if len(next) == 0 {
			break
		}

		hydrated, err := metadata.GetSymbols(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("graph expand: hydrate hop %d: %w", hop, err)
		}
		newFrontier := make([]string, 0, len(hydrated))
		for _, s := range hydrated {
			if _, ok := visitedSymbols[s.ID]; !ok {
				visitedSymbols[s.ID] = s
				newFrontier = append(newFrontier, s.ID)
			}
		}
		frontier = newFrontier
	}

	result := &ExpansionResult{
		Symbols: make([]*store.Symbol, 0, len(visitedSymbols)),
		Edges:   make([]*store.Edge, 0, len(visitedEdges)),
	}
	for _, s := range visitedSymbols {
		result.Symbols = append(result.Symbols, s)
	}
	for _, e := range visitedEdges {
		result.Edges = append(result.Edges, e)
	}
	return result, nil
}

func filterByConfidence(edges []*store.Edge, threshold float64) []*store.Edge {
	out := make([]*store.Edge, 0, len(edges))
	for _, e := range edges {
		if e.Confidence >= threshold {
			out = append(out, e)
		}
	}
	return out
}
