package search

import (
	"path"
	"sort"
	"strings"

	"github.com/opzero1/codeintel/internal/store"
)

// Score adjustment constants applied to rerank candidates before the
// query orchestrator assembles its final context.
const (
	// TestFilePenalty reduces scores for test files so real implementations
	// outrank their mocks and fixtures.
	TestFilePenalty = 0.5

	// InternalPathBoost increases scores for implementation code under internal/.
	InternalPathBoost = 1.3

	// CmdPathPenalty reduces scores for CLI wrapper code under cmd/, which
	// otherwise tends to match many keyword queries without containing the
	// logic the query is actually after.
	CmdPathPenalty = 0.6
)

// SymbolFilter checks whether a symbol matches filter criteria derived
// from QueryOptions.
type SymbolFilter func(sym *store.Symbol) bool

// FilterSymbols applies path_prefix, file_patterns, and symbol_types
// filtering (§4.5.9's scoping fields) with AND semantics across filter
// kinds and OR semantics within file_patterns/symbol_types.
func FilterSymbols(symbols []*store.Symbol, opts QueryOptions) []*store.Symbol {
	if opts.PathPrefix == "" && len(opts.FilePatterns) == 0 && len(opts.SymbolTypes) == 0 {
		return symbols
	}

	var filters []SymbolFilter
	if opts.PathPrefix != "" {
		filters = append(filters, pathPrefixFilter(opts.PathPrefix))
	}
	if len(opts.FilePatterns) > 0 {
		filters = append(filters, filePatternFilter(opts.FilePatterns))
	}
	if len(opts.SymbolTypes) > 0 {
		filters = append(filters, symbolTypeFilter(opts.SymbolTypes))
	}

	out := make([]*store.Symbol, 0, len(symbols))
	for _, s := range symbols {
		if matchesAll(s, filters) {
			out = append(out, s)
		}
	}
	return out
}

func matchesAll(sym *store.Symbol, filters []SymbolFilter) bool {
	for _, f := range filters {
		if !f(sym) {
			return false
		}
	}
	return true
}

func pathPrefixFilter(prefix string) SymbolFilter {
	normalized := normalizeScope(prefix) + "/"
	return func(sym *store.Symbol) bool {
		return strings.HasPrefix(normalizeScope(sym.FilePath)+"/", normalized)
	}
}

func filePatternFilter(patterns []string) SymbolFilter {
	return func(sym *store.Symbol) bool {
		for _, p := range patterns {
			if ok, err := path.Match(p, sym.FilePath); err == nil && ok {
				return true
			}
			if strings.HasSuffix(sym.FilePath, strings.TrimPrefix(p, "*")) {
				return true
			}
		}
		return false
	}
}

func symbolTypeFilter(types []store.SymbolType) SymbolFilter {
	allowed := make(map[store.SymbolType]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	return func(sym *store.Symbol) bool {
		return allowed[sym.Type]
	}
}

// normalizeScope strips leading/trailing slashes so path comparisons
// don't depend on caller formatting.
func normalizeScope(p string) string {
	return strings.Trim(p, "/")
}

// ApplyPathScoring adjusts rerank candidate scores in place to
// deprioritize test files and CLI wrapper packages relative to the
// implementation code a query is usually actually after, then re-sorts
// descending. Multi-query consensus scoring otherwise favors cmd/
// wrappers because they tend to match broader vocabulary than the
// internal/ packages that implement the behavior.
func ApplyPathScoring(candidates []RerankCandidate) []RerankCandidate {
	if len(candidates) == 0 {
		return candidates
	}
	for i := range candidates {
		path := candidates[i].FilePath
		if isTestFile(path) {
			candidates[i].InitialScore *= TestFilePenalty
		}
		if isImplementationPath(path) {
			candidates[i].InitialScore *= InternalPathBoost
		}
		if isWrapperPath(path) {
			candidates[i].InitialScore *= CmdPathPenalty
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].InitialScore > candidates[j].InitialScore
	})
	return candidates
}

// isTestFile reports whether filePath looks like a test file across the
// handful of naming conventions the indexer is likely to encounter: Go's
// _test.go, JS/TS's .test./.spec., and Python's test_*/​*_test.py.
func isTestFile(filePath string) bool {
	if strings.HasSuffix(filePath, "_test.go") {
		return true
	}
	if strings.Contains(filePath, ".test.") || strings.Contains(filePath, ".spec.") {
		return true
	}
	fileName := filePath
	if idx := strings.LastIndex(filePath, "/"); idx >= 0 {
		fileName = filePath[idx+1:]
	}
	if strings.HasPrefix(fileName, "test_") && strings.HasSuffix(fileName, ".py") {
		return true
	}
	if strings.HasSuffix(fileName, "_test.py") {
		return true
	}
	if strings.Contains(filePath, "/test/") || strings.Contains(filePath, "/tests/") ||
		strings.HasPrefix(filePath, "test/") || strings.HasPrefix(filePath, "tests/") {
		return true
	}
	return strings.Contains(filePath, "/__tests__/") || strings.HasPrefix(filePath, "__tests__/")
}

func isImplementationPath(filePath string) bool {
	return strings.HasPrefix(filePath, "internal/") || strings.Contains(filePath, "/internal/")
}

func isWrapperPath(filePath string) bool {
	return strings.HasPrefix(filePath, "cmd/") || strings.Contains(filePath, "/cmd/")
}
