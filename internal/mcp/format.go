package mcp

import (
	"fmt"
	"strings"

	"github.com/opzero1/codeintel/internal/search"
	"github.com/opzero1/codeintel/internal/store"
)

// FormatQueryResult renders an orchestrator query result as markdown,
// leading with the assembled context string and following with a
// confidence summary so a client can judge how much to trust it.
func FormatQueryResult(query string, result *search.QueryResult) string {
	if result == nil || len(result.Context.SymbolsIncluded) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for \"%s\"\n\n", query)
	fmt.Fprintf(&sb, "Found %d symbol", len(result.Context.SymbolsIncluded))
	if len(result.Context.SymbolsIncluded) != 1 {
		sb.WriteString("s")
	}
	fmt.Fprintf(&sb, " (confidence: %s)\n\n", result.Confidence.Tier)

	for i, sym := range result.Context.SymbolsIncluded {
		formatSymbolResult(&sb, i+1, sym)
	}

	if len(result.Context.Edges) > 0 {
		fmt.Fprintf(&sb, "_%d related edges included via graph expansion._\n", len(result.Context.Edges))
	}

	return sb.String()
}

func formatSymbolResult(sb *strings.Builder, num int, sym *store.Symbol) {
	fmt.Fprintf(sb, "### %d. %s:%d-%d — %s `%s`\n\n",
		num, sym.FilePath, sym.StartLine, sym.EndLine, strings.ToLower(string(sym.Type)), symbolLabel(sym))

	if sym.Signature != "" {
		fmt.Fprintf(sb, "**Signature:** `%s`\n\n", sym.Signature)
	}
	if sym.Docstring != "" {
		doc := sym.Docstring
		if idx := strings.Index(doc, "\n"); idx > 0 {
			doc = doc[:idx]
		}
		fmt.Fprintf(sb, "%s\n\n", doc)
	}

	lang := sym.Language
	if lang == "" {
		lang = "text"
	}
	fmt.Fprintf(sb, "```%s\n%s\n```\n\n", lang, sym.Content)
}

func symbolLabel(sym *store.Symbol) string {
	if sym.QualifiedName != "" {
		return sym.QualifiedName
	}
	return sym.Name
}

// clampLimit ensures limit is within bounds.
func clampLimit(limit, defaultVal, min, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}

// ToSearchResultOutputs converts a completed query into the MCP tool's
// structured output schema.
func ToSearchResultOutputs(result *search.QueryResult) []SearchResultOutput {
	if result == nil {
		return nil
	}
	out := make([]SearchResultOutput, 0, len(result.Context.SymbolsIncluded))
	for _, sym := range result.Context.SymbolsIncluded {
		out = append(out, SearchResultOutput{
			FilePath:    sym.FilePath,
			Content:     sym.Content,
			Language:    sym.Language,
			Symbol:      symbolLabel(sym),
			SymbolType:  string(sym.Type),
			Signature:   sym.Signature,
			MatchReason: generateMatchReason(sym, result.Confidence),
		})
	}
	return out
}

// generateMatchReason creates a human-readable explanation of why a
// result matched, based on the query's confidence diagnostics rather
// than a single result's per-channel rank (the orchestrator no longer
// tracks per-symbol channel provenance past the fusion stage).
func generateMatchReason(sym *store.Symbol, conf store.ConfidenceDiagnostics) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("%s '%s'", strings.ToLower(string(sym.Type)), symbolLabel(sym)))
	if sym.Docstring != "" {
		docLine := sym.Docstring
		if idx := strings.Index(docLine, "\n"); idx > 0 {
			docLine = docLine[:idx]
		}
		if len(docLine) > 50 {
			docLine = docLine[:47] + "..."
		}
		parts = append(parts, fmt.Sprintf("documented as: %s", docLine))
	}
	parts = append(parts, fmt.Sprintf("confidence: %s (%s)", conf.Tier, conf.TierReason))
	return strings.Join(parts, "; ")
}
