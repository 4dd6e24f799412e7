package graph

import (
	"context"
	"fmt"

	"github.com/opzero1/codeintel/internal/store"
)

// RiskTier classifies the blast radius of a symbol change by the count
// of unique transitive dependents.
type RiskTier string

const (
	RiskLow      RiskTier = "low"
	RiskMedium   RiskTier = "medium"
	RiskHigh     RiskTier = "high"
	RiskCritical RiskTier = "critical"
)

// ClassifyRisk maps a dependent count to a risk tier.
func ClassifyRisk(dependentCount int) RiskTier {
	switch {
	case dependentCount <= 3:
		return RiskLow
	case dependentCount <= 10:
		return RiskMedium
	case dependentCount <= 25:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// Dependent is one symbol reachable by walking incoming edges backward
// from the target, along with the hop path that reached it.
type Dependent struct {
	Symbol   *store.Symbol
	HopPath  []string
	Edge     *store.Edge
	Depth    int
}

// ImpactReport is the result of AnalyzeImpact.
type ImpactReport struct {
	SymbolID          string
	Direct            []*Dependent
	Transitive        []*Dependent
	RiskTier          RiskTier
	ConfidenceTier     string
	OriginBreakdown    map[store.EdgeOrigin]int
}

// AnalyzeImpact walks incoming edges transitively from symbolID up to
// maxDepth hops, classifying the blast radius of changing that symbol.
// The confidence tier reflects the mix of edge origins encountered:
// LSP-derived edges are the most trustworthy, AST-inferred the least.
func AnalyzeImpact(ctx context.Context, metadata store.MetadataStore, symbolID string, maxDepth int, branch string) (*ImpactReport, error) {
	if maxDepth <= 0 {
		maxDepth = 10
	}
	if branch == "" {
		branch = store.DefaultBranch
	}

	visited := map[string]bool{symbolID: true}
	report := &ImpactReport{
		SymbolID:        symbolID,
		OriginBreakdown: make(map[store.EdgeOrigin]int),
	}

	frontier := []string{symbolID}
	pathTo := map[string][]string{symbolID: {}}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var next []string
		for _, id := range frontier {
			incoming, err := metadata.GetEdgesTo(ctx, id, branch)
			if err != nil {
				return nil, fmt.Errorf("impact analysis: edges to %s: %w", id, err)
			}
			for _, e := range incoming {
				if visited[e.SourceID] {
					continue
				}
				visited[e.SourceID] = true
				next = append(next, e.SourceID)

				path := append(append([]string{}, pathTo[id]...), e.SourceID)
				pathTo[e.SourceID] = path

				sym, err := metadata.GetSymbol(ctx, e.SourceID)
				if err != nil {
					return nil, fmt.Errorf("impact analysis: hydrate %s: %w", e.SourceID, err)
				}
				if sym == nil {
					continue
				}

				dep := &Dependent{Symbol: sym, HopPath: path, Edge: e, Depth: depth}
				report.OriginBreakdown[e.Origin]++
				if depth == 1 {
					report.Direct = append(report.Direct, dep)
				} else {
					report.Transitive = append(report.Transitive, dep)
				}
			}
		}
		frontier = next
	}

	total := len(report.Direct) + len(report.Transitive)
	report.RiskTier = ClassifyRisk(total)
	report.ConfidenceTier = confidenceFromOrigins(report.OriginBreakdown)

	return report, nil
}

// confidenceFromOrigins derives a confidence tier from the proportion of
// edges that came from precise sources (LSP) versus heuristic ones
// (AST inference), matching the precision ordering LSP > SCIP > inference.
func confidenceFromOrigins(breakdown map[store.EdgeOrigin]int) string {
	total := 0
	for _, n := range breakdown {
		total += n
	}
	if total == 0 {
		return "low"
	}
	precise := breakdown[store.EdgeOriginLSP] + breakdown[store.EdgeOriginSCIP]
	ratio := float64(precise) / float64(total)
	switch {
	case ratio >= 0.8:
		return "high"
	case ratio >= 0.4:
		return "medium"
	default:
		return "low"
	}
}
