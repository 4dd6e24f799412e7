package search

import (
	"fmt"
	"math"
	"strings"

	"github.com/opzero1/codeintel/internal/store"
)

// AssembledContext is the result of token-budgeted context assembly.
type AssembledContext struct {
	SymbolsIncluded []*store.Symbol
	Edges           []*store.Edge
	ContextString   string
	TokenCount      int
}

// estimateTokens approximates token count as ceil(chars/4), a cheap
// proxy that avoids depending on a model-specific tokenizer.
func estimateTokens(s string) int {
	return int(math.Ceil(float64(len(s)) / 4.0))
}

// AssembleContext formats an ordered (post-rerank) symbol list plus
// graph-expansion edges into a single context string bounded by
// maxTokens. Symbols are included in order until the budget is
// exhausted; if at least 100 tokens of budget remain when a symbol
// would overflow it, a truncated version of that symbol is appended
// instead of stopping outright. Symbols sharing a content hash with an
// already-included symbol are skipped (worktree/duplicate collapsing);
// symbols with no content hash are never deduplicated this way.
func AssembleContext(symbols []*store.Symbol, edges []*store.Edge, maxTokens int) AssembledContext {
	var sb strings.Builder
	included := make([]*store.Symbol, 0, len(symbols))
	seenHashes := make(map[string]bool)
	tokenCount := 0

	for _, sym := range symbols {
		if sym.ContentHash != "" && seenHashes[sym.ContentHash] {
			continue
		}

		block := formatSymbolBlock(sym)
		blockTokens := estimateTokens(block)

		if tokenCount+blockTokens <= maxTokens {
			sb.WriteString(block)
			tokenCount += blockTokens
			included = append(included, sym)
			if sym.ContentHash != "" {
				seenHashes[sym.ContentHash] = true
			}
			continue
		}

		remaining := maxTokens - tokenCount
		if remaining >= 100 {
			charBudget := remaining*4 - 3
			if charBudget > 0 {
				truncated := truncateSymbolBlock(sym, charBudget)
				sb.WriteString(truncated)
				tokenCount += estimateTokens(truncated)
				included = append(included, sym)
				if sym.ContentHash != "" {
					seenHashes[sym.ContentHash] = true
				}
			}
		}
		break
	}

	return AssembledContext{
		SymbolsIncluded: included,
		Edges:           edges,
		ContextString:   sb.String(),
		TokenCount:      tokenCount,
	}
}

func formatSymbolBlock(sym *store.Symbol) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s: %s\n", sym.Type, symbolDisplayName(sym))
	fmt.Fprintf(&sb, "%s:%d-%d\n", sym.FilePath, sym.StartLine, sym.EndLine)
	if sym.Signature != "" {
		fmt.Fprintf(&sb, "signature: %s\n", sym.Signature)
	}
	if sym.Docstring != "" {
		sb.WriteString(sym.Docstring)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "```%s\n%s\n```\n\n", sym.Language, sym.Content)
	return sb.String()
}

// truncateSymbolBlock formats the whole symbol block and, if it exceeds
// the remaining character budget, cuts the formatted text at the budget
// and appends "...". The cut is applied to the block as a whole, so the
// header/location/signature/docstring lines are kept only as far as they
// fit within the budget.
func truncateSymbolBlock(sym *store.Symbol, charBudget int) string {
	full := formatSymbolBlock(sym)
	if len(full) <= charBudget {
		return full
	}
	if charBudget <= 3 {
		return "..."
	}
	return full[:charBudget-3] + "..."
}

func symbolDisplayName(sym *store.Symbol) string {
	if sym.QualifiedName != "" {
		return sym.QualifiedName
	}
	return sym.Name
}
