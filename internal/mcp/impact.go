package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/opzero1/codeintel/internal/graph"
	"github.com/opzero1/codeintel/internal/store"
)

// analyzeImpact runs impact analysis against the default branch.
func analyzeImpact(ctx context.Context, metadata store.MetadataStore, symbolID string, maxDepth int) (*graph.ImpactReport, error) {
	return graph.AnalyzeImpact(ctx, metadata, symbolID, maxDepth, store.DefaultBranch)
}

// FormatImpactReport renders an impact report as markdown, leading with
// the risk verdict so a caller can decide whether to read further.
func FormatImpactReport(report *graph.ImpactReport) string {
	if report == nil {
		return "No impact data available."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Impact Analysis: %s\n\n", report.SymbolID)
	fmt.Fprintf(&sb, "**Risk:** %s | **Confidence:** %s\n\n", report.RiskTier, report.ConfidenceTier)
	fmt.Fprintf(&sb, "%d direct dependent(s), %d transitive dependent(s)\n\n", len(report.Direct), len(report.Transitive))

	if len(report.Direct) > 0 {
		sb.WriteString("### Direct dependents\n\n")
		for _, d := range report.Direct {
			fmt.Fprintf(&sb, "- `%s` (%s:%d) via %s\n", d.Symbol.Name, d.Symbol.FilePath, d.Symbol.StartLine, d.Edge.Type)
		}
		sb.WriteString("\n")
	}

	if len(report.Transitive) > 0 {
		sb.WriteString("### Transitive dependents\n\n")
		for _, d := range report.Transitive {
			fmt.Fprintf(&sb, "- `%s` (%s:%d), %d hops via %s\n", d.Symbol.Name, d.Symbol.FilePath, d.Symbol.StartLine, d.Depth, strings.Join(d.HopPath, " -> "))
		}
	}

	return sb.String()
}
