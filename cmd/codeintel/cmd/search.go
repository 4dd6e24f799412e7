package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opzero1/codeintel/internal/config"
	"github.com/opzero1/codeintel/internal/daemon"
	"github.com/opzero1/codeintel/internal/embed"
	"github.com/opzero1/codeintel/internal/logging"
	"github.com/opzero1/codeintel/internal/output"
	"github.com/opzero1/codeintel/internal/search"
	"github.com/opzero1/codeintel/internal/store"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit      int
	language   string
	format     string   // "text", "json"
	scopes     []string // path prefixes for filtering
	bm25Only   bool     // skip semantic search, use BM25 only
	local      bool     // Force local search (bypass daemon)
	explain    bool     // show search decision process
	rerank     string   // "none", "heuristic", "bm25", "cross-encoder"
	graphDepth int
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed codebase",
		Long: `Search the indexed codebase using hybrid search.

Combines BM25 (keyword) and semantic (embedding) search with Reciprocal
Rank Fusion, then expands the result set across the dependency graph and
assembles a token-budgeted context with a confidence score.

Examples:
  codeintel search "authentication middleware"
  codeintel search "handleRequest" --limit 5
  codeintel search "error handling" --format json
  codeintel search "retry logic" --rerank heuristic`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Filter by language (e.g., go, python)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().StringSliceVarP(&opts.scopes, "scope", "s", nil, "Filter by path scope (repeatable, e.g., --scope services/api)")
	cmd.Flags().BoolVar(&opts.bm25Only, "bm25-only", false, "Use keyword search only (skip semantic search)")
	cmd.Flags().BoolVar(&opts.local, "local", false, "Force local search (bypass daemon)")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Show search decision process (candidate counts, fusion overlap, confidence)")
	cmd.Flags().StringVar(&opts.rerank, "rerank", "none", "Rerank mode: none, heuristic, bm25, cross-encoder")
	cmd.Flags().IntVar(&opts.graphDepth, "graph-depth", 2, "Dependency graph expansion depth")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if _, cleanup, err := logging.Setup(logCfg); err == nil {
		defer cleanup()
	}

	slog.Info("search_started", slog.String("query", query), slog.Int("limit", opts.limit))
	out := output.New(cmd.OutOrStdout())

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	dataDir := filepath.Join(root, ".code-intel")
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if _, err := os.Stat(metadataPath); os.IsNotExist(err) {
		return fmt.Errorf("no index found. Run 'codeintel index' first")
	}

	daemonCfg := daemon.DefaultConfig()
	client := daemon.NewClient(daemonCfg)
	if !opts.local && client.IsRunning() {
		slog.Info("search_using_daemon")
		results, err := client.Search(ctx, daemon.SearchParams{
			Query:    query,
			RootPath: root,
			Limit:    opts.limit,
			Language: opts.language,
			Scopes:   opts.scopes,
			BM25Only: opts.bm25Only,
			Explain:  opts.explain,
		})
		if err != nil {
			slog.Warn("Daemon search failed, falling back to local", slog.String("error", err.Error()))
		} else {
			slog.Info("search_complete", slog.String("mode", "daemon"), slog.Int("results", len(results)))
			return formatDaemonResults(cmd, out, query, results, opts.format)
		}
	}

	slog.Info("search_using_local")
	return runLocalSearch(ctx, cmd, root, query, opts)
}

// runLocalSearch performs search without the daemon, building and
// driving an Orchestrator directly against the on-disk stores.
func runLocalSearch(ctx context.Context, cmd *cobra.Command, root, query string, opts searchOptions) error {
	out := output.New(cmd.OutOrStdout())
	dataDir := filepath.Join(root, ".code-intel")

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	metadataPath := filepath.Join(dataDir, "metadata.db")
	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return fmt.Errorf("failed to open metadata: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	bm25BasePath := filepath.Join(dataDir, "bm25")
	bm25Config := store.DefaultBM25Config()
	bm25, err := store.NewKeywordIndexWithBackend(bm25BasePath, bm25Config, cfg.Search.BM25Backend)
	if err != nil {
		return fmt.Errorf("failed to open BM25 index: %w", err)
	}
	defer func() { _ = bm25.Close() }()

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	existingDims, err := store.ReadHNSWStoreDimensions(vectorPath)
	if err != nil {
		slog.Debug("Could not read vector dimensions", slog.String("error", err.Error()))
		existingDims = 0
	}

	var embedder embed.Embedder
	var dimensions int

	if opts.bm25Only {
		embedder = embed.NewStaticEmbedder768()
		dimensions = embedder.Dimensions()
		slog.Debug("bm25_only_mode", slog.Int("dimensions", dimensions))
	} else {
		embed.SetMLXConfig(embed.MLXServerConfig{
			Endpoint: cfg.Embeddings.MLXEndpoint,
			Model:    cfg.Embeddings.MLXModel,
		})

		provider := embed.ParseProvider(cfg.Embeddings.Provider)
		embedder, err = embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
		if err != nil {
			return fmt.Errorf("failed to create embedder: %w", err)
		}
		dimensions = embedder.Dimensions()
		slog.Debug("embedder_initialized",
			slog.String("provider", provider.String()),
			slog.String("model", embedder.ModelName()),
			slog.Int("dimensions", dimensions),
			slog.Int("existing_dims", existingDims))
	}
	defer func() { _ = embedder.Close() }()

	vectorConfig := store.DefaultVectorStoreConfig(dimensions)
	vector, err := store.NewHNSWStore(vectorConfig)
	if err != nil {
		return fmt.Errorf("failed to create vector store: %w", err)
	}
	defer func() { _ = vector.Close() }()

	if _, err := os.Stat(vectorPath); err == nil {
		if loadErr := vector.Load(vectorPath); loadErr != nil {
			slog.Debug("vector_load_failed", slog.String("error", loadErr.Error()))
		}
	}

	orchestrator := &search.Orchestrator{
		Metadata: metadata,
		Keyword:  bm25,
		Vector:   vector,
	}
	if !opts.bm25Only {
		orchestrator.Embedder = embedder
	}

	queryOpts := search.DefaultQueryOptions()
	queryOpts.QueryText = query
	queryOpts.Rerank = search.RerankMode(opts.rerank)
	queryOpts.GraphDepth = opts.graphDepth
	if len(opts.scopes) > 0 {
		queryOpts.PathPrefix = opts.scopes[0]
	}
	if opts.limit > 0 {
		queryOpts.MaxTokens = clampLimitToTokens(opts.limit)
	}
	if len(opts.language) > 0 {
		queryOpts.FilePatterns = []string{"*." + strings.TrimPrefix(opts.language, ".")}
	}

	result, err := orchestrator.Query(ctx, queryOpts)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	slog.Info("search_complete", slog.String("mode", "local"),
		slog.Int("results", len(result.Context.SymbolsIncluded)),
		slog.String("confidence", result.Confidence.Tier))

	if len(result.Context.SymbolsIncluded) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", query))
		return nil
	}

	if opts.explain {
		formatExplainHeader(out, query, result)
	}

	switch opts.format {
	case "json":
		return formatJSON(cmd, result)
	default:
		return formatText(out, query, result)
	}
}

// clampLimitToTokens turns a requested result count into an approximate
// token budget for context assembly; each symbol averages a few hundred
// tokens once its signature and docstring are included.
func clampLimitToTokens(limit int) int {
	tokens := limit * 400
	if tokens < 2000 {
		return 2000
	}
	if tokens > 32000 {
		return 32000
	}
	return tokens
}

// formatDaemonResults formats search results from daemon.
func formatDaemonResults(cmd *cobra.Command, out *output.Writer, query string, results []daemon.SearchResult, format string) error {
	if len(results) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", query))
		return nil
	}

	switch format {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	default:
		if len(results) > 0 && results[0].Explain != nil {
			formatDaemonExplainHeader(out, results[0].Explain)
		}

		out.Statusf("🔍", "Found %d results for %q:", len(results), query)
		out.Newline()

		hasExplain := len(results) > 0 && results[0].Explain != nil
		for i, r := range results {
			location := r.FilePath
			if r.StartLine > 0 {
				location = fmt.Sprintf("%s:%d", r.FilePath, r.StartLine)
			}

			if hasExplain {
				out.Statusf("", "%d. %s (score: %.3f)", i+1, location, r.Score)
				out.Status("", fmt.Sprintf("      BM25: rank %d (score: %.3f) | Vector: rank %d (score: %.3f)",
					r.BM25Rank, r.BM25Score, r.VecRank, r.VecScore))
			} else {
				out.Statusf("", "%d. %s (score: %.2f)", i+1, location, r.Score)
			}

			snippet := getSnippet(r.Content, 3)
			for _, line := range snippet {
				out.Status("", "   "+line)
			}
			out.Newline()
		}
		return nil
	}
}

// formatDaemonExplainHeader outputs the explain summary for daemon results.
func formatDaemonExplainHeader(out *output.Writer, explain *daemon.ExplainData) {
	out.Status("", "════════════════════════════════════════")
	out.Status("", "SEARCH EXPLANATION")
	out.Status("", "════════════════════════════════════════")
	out.Status("", fmt.Sprintf("Query: %q", explain.Query))
	out.Newline()

	if explain.BM25Only {
		out.Status("", "Mode: BM25-only (--bm25-only flag)")
	} else if explain.DimensionMismatch {
		out.Status("", "Mode: BM25-only (dimension mismatch - run 'codeintel reindex --force')")
	} else if explain.MultiQueryDecomposed {
		out.Status("", "Mode: Multi-query decomposition")
		out.Status("", "Sub-queries:")
		for _, sq := range explain.SubQueries {
			out.Status("", fmt.Sprintf("  - %q", sq))
		}
	} else {
		out.Status("", "Mode: Hybrid (BM25 + Vector)")
	}
	out.Newline()

	out.Status("", fmt.Sprintf("BM25 Results: %d (weight: %.2f)", explain.BM25ResultCount, explain.BM25Weight))
	out.Status("", fmt.Sprintf("Vector Results: %d (weight: %.2f)", explain.VectorResultCount, explain.SemanticWeight))
	out.Status("", fmt.Sprintf("RRF Constant: k=%d", explain.RRFConstant))
	out.Status("", "════════════════════════════════════════")
	out.Newline()
}

// formatText outputs an orchestrator result in human-readable form.
func formatText(out *output.Writer, query string, result *search.QueryResult) error {
	symbols := result.Context.SymbolsIncluded
	out.Statusf("🔍", "Found %d result(s) for %q (confidence: %s):", len(symbols), query, result.Confidence.Tier)
	out.Newline()

	for i, sym := range symbols {
		location := sym.FilePath
		if sym.StartLine > 0 {
			location = fmt.Sprintf("%s:%d", sym.FilePath, sym.StartLine)
		}
		out.Statusf("", "%d. %s — %s %s", i+1, location, strings.ToLower(string(sym.Type)), sym.Name)

		snippet := getSnippet(sym.Content, 3)
		for _, line := range snippet {
			out.Status("", "   "+line)
		}
		out.Newline()
	}

	if len(result.Context.Edges) > 0 {
		out.Status("", fmt.Sprintf("(%d related edge(s) included via graph expansion)", len(result.Context.Edges)))
	}

	return nil
}

// formatExplainHeader reports the orchestrator's internal decisions for
// a completed query: candidate sizing, per-channel hit counts, and fusion
// overlap, mirroring the daemon's own explain output.
func formatExplainHeader(out *output.Writer, query string, result *search.QueryResult) {
	out.Status("", "════════════════════════════════════════")
	out.Status("", "SEARCH EXPLANATION")
	out.Status("", "════════════════════════════════════════")
	out.Status("", fmt.Sprintf("Query: %q", query))
	out.Newline()
	out.Status("", fmt.Sprintf("Candidate limit: %d", result.Metadata.CandidateLimit))
	out.Status("", fmt.Sprintf("Keyword hits: %d | Vector hits: %d | Overlap: %d",
		result.Metadata.KeywordHits, result.Metadata.VectorHits, result.Metadata.FusedOverlap))
	out.Status("", fmt.Sprintf("Confidence: %s (%s)", result.Confidence.Tier, result.Confidence.TierReason))
	for stage, d := range result.Metadata.Timings {
		out.Status("", fmt.Sprintf("  %s: %s", stage, d))
	}
	out.Status("", "════════════════════════════════════════")
	out.Newline()
}

// formatJSON outputs an orchestrator result in JSON format.
func formatJSON(cmd *cobra.Command, result *search.QueryResult) error {
	type jsonResult struct {
		FilePath  string `json:"file_path"`
		StartLine int    `json:"start_line"`
		EndLine   int    `json:"end_line"`
		Symbol    string `json:"symbol"`
		Type      string `json:"type"`
		Content   string `json:"content"`
		Language  string `json:"language,omitempty"`
	}
	type jsonOutput struct {
		Results    []jsonResult `json:"results"`
		Confidence string       `json:"confidence"`
	}

	var payload jsonOutput
	payload.Confidence = result.Confidence.Tier
	for _, sym := range result.Context.SymbolsIncluded {
		payload.Results = append(payload.Results, jsonResult{
			FilePath:  sym.FilePath,
			StartLine: sym.StartLine,
			EndLine:   sym.EndLine,
			Symbol:    sym.Name,
			Type:      string(sym.Type),
			Content:   sym.Content,
			Language:  sym.Language,
		})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

// getSnippet returns the first n lines of content.
func getSnippet(content string, n int) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
