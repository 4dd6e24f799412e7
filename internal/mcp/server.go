package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/opzero1/codeintel/internal/async"
	"github.com/opzero1/codeintel/internal/config"
	"github.com/opzero1/codeintel/internal/embed"
	"github.com/opzero1/codeintel/internal/search"
	"github.com/opzero1/codeintel/internal/store"
	"github.com/opzero1/codeintel/internal/telemetry"
	"github.com/opzero1/codeintel/pkg/version"
)

// Server is the MCP server that bridges AI clients (Claude Code, Cursor)
// with the local code-intelligence index's query orchestrator.
type Server struct {
	mcp          *mcp.Server
	orchestrator *search.Orchestrator
	metadata     store.MetadataStore
	embedder     embed.Embedder // nil is valid; capability is reported as unavailable
	config       *config.Config
	logger       *slog.Logger

	projectID string
	rootPath  string

	indexProgress *async.IndexProgress
	metrics       *telemetry.QueryMetrics

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// ResourceInfo contains information about a resource.
type ResourceInfo struct {
	URI      string
	Name     string
	MIMEType string
}

// ResourceContent contains the content of a resource.
type ResourceContent struct {
	URI      string
	Content  string
	MIMEType string
}

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query      string   `json:"query" jsonschema:"the search query to execute"`
	Limit      int      `json:"limit,omitempty" jsonschema:"maximum tokens worth of context, default 8000"`
	PathPrefix string   `json:"path_prefix,omitempty" jsonschema:"restrict results to files under this path"`
	Rerank     string   `json:"rerank,omitempty" jsonschema:"rerank mode: none, heuristic, bm25, cross-encoder"`
	Scope      []string `json:"scope,omitempty" jsonschema:"glob patterns restricting matched files"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Results    []SearchResultOutput `json:"results" jsonschema:"list of search results"`
	Confidence string                `json:"confidence" jsonschema:"high, medium, low, or degraded"`
}

// SearchResultOutput defines a single search result with context-rich metadata.
type SearchResultOutput struct {
	FilePath     string   `json:"file_path" jsonschema:"file path relative to project root"`
	Content      string   `json:"content" jsonschema:"matched content snippet"`
	Score        float64  `json:"score" jsonschema:"relevance score between 0 and 1"`
	Language     string   `json:"language,omitempty" jsonschema:"programming language of the file"`
	MatchReason  string   `json:"match_reason,omitempty" jsonschema:"human-readable explanation of why this result matched"`
	Symbol       string   `json:"symbol,omitempty" jsonschema:"primary symbol name (function, class, type)"`
	SymbolType   string   `json:"symbol_type,omitempty" jsonschema:"type of symbol: function, class, interface, type, method"`
	Signature    string   `json:"signature,omitempty" jsonschema:"full function/method signature"`
	MatchedTerms []string `json:"matched_terms,omitempty" jsonschema:"query terms that matched this result"`
	InBothLists  bool     `json:"in_both_lists,omitempty" jsonschema:"true if result appeared in both keyword and semantic search"`
}

// NewServer creates a new MCP server backed by a query orchestrator.
// rootPath is used for project detection (go.mod, package.json, etc.).
func NewServer(orchestrator *search.Orchestrator, metadata store.MetadataStore, embedder embed.Embedder, cfg *config.Config, rootPath string) (*Server, error) {
	if orchestrator == nil {
		return nil, errors.New("query orchestrator is required")
	}
	if metadata == nil {
		return nil, errors.New("metadata store is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		orchestrator: orchestrator,
		metadata:     metadata,
		embedder:     embedder,
		config:       cfg,
		rootPath:     rootPath,
		logger:       slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "CodeIntel",
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()

	return s, nil
}

// SetIndexProgress sets the index progress tracker for background indexing.
func (s *Server) SetIndexProgress(progress *async.IndexProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexProgress = progress
}

// SetMetrics sets the query metrics collector for telemetry.
func (s *Server) SetMetrics(m *telemetry.QueryMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
	if m != nil {
		s.registerQueryMetricsResource()
	}
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "CodeIntel", version.Version
}

// Capabilities returns whether tools and resources are enabled.
func (s *Server) Capabilities() (hasTools, hasResources bool) {
	return true, true
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{
			Name:        "search",
			Description: "Primary search tool. Runs hybrid keyword+semantic retrieval over a full-codebase index, expands through the call/import graph, and assembles a token-budgeted context block.",
		},
		{
			Name:        "impact",
			Description: "Reports the blast radius of changing a symbol: direct and transitive dependents, a risk tier, and a confidence tier derived from how precisely those dependents were discovered.",
		},
		{
			Name:        "index_status",
			Description: "Check if the codebase index is ready and which embedder is active. Use before searching to verify the index is complete.",
		},
	}
}

// CallTool invokes a tool by name with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch name {
	case "search":
		return s.handleSearchTool(ctx, args)
	case "impact":
		return s.handleImpactTool(ctx, args)
	case "index_status":
		return s.handleIndexStatusTool(ctx, args)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// handleSearchTool handles the search tool invocation, returning
// markdown-formatted results.
func (s *Server) handleSearchTool(ctx context.Context, args map[string]any) (string, error) {
	s.mu.RLock()
	progress := s.indexProgress
	s.mu.RUnlock()

	if progress != nil && progress.IsIndexing() {
		snap := progress.Snapshot()
		return fmt.Sprintf("## Indexing in Progress\n\n"+
			"**Progress:** %.1f%% (%d/%d files)\n"+
			"**Stage:** %s\n\n"+
			"Search results may be incomplete or unavailable. Please try again in a moment.",
			snap.ProgressPct, snap.FilesProcessed, snap.FilesTotal, snap.Stage), nil
	}

	start := time.Now()
	requestID := generateRequestID()

	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return "", NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	opts := search.DefaultQueryOptions()
	opts.QueryText = query
	if l, ok := args["limit"].(float64); ok && l > 0 {
		opts.MaxTokens = int(l)
	}
	if prefix, ok := args["path_prefix"].(string); ok {
		opts.PathPrefix = prefix
	}
	if rerank, ok := args["rerank"].(string); ok && rerank != "" {
		opts.Rerank = search.RerankMode(rerank)
	}
	if scope, ok := args["scope"].([]interface{}); ok {
		for _, sc := range scope {
			if str, ok := sc.(string); ok {
				opts.FilePatterns = append(opts.FilePatterns, str)
			}
		}
	}

	s.logger.Info("search started",
		slog.String("request_id", requestID),
		slog.String("query", query))

	result, err := s.orchestrator.Query(ctx, opts)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("search failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return "", MapError(err)
	}

	s.logger.Info("search completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(result.Context.SymbolsIncluded)),
		slog.String("confidence", result.Confidence.Tier))

	return FormatQueryResult(query, result), nil
}

// handleImpactTool handles the impact tool invocation.
func (s *Server) handleImpactTool(ctx context.Context, args map[string]any) (string, error) {
	symbolID, ok := args["symbol_id"].(string)
	if !ok || symbolID == "" {
		return "", NewInvalidParamsError("symbol_id parameter is required and must be a non-empty string")
	}
	maxDepth := 10
	if d, ok := args["max_depth"].(float64); ok && d > 0 {
		maxDepth = int(d)
	}

	report, err := analyzeImpact(ctx, s.metadata, symbolID, maxDepth)
	if err != nil {
		return "", MapError(err)
	}
	return FormatImpactReport(report), nil
}

// handleIndexStatusTool handles the index_status tool invocation.
func (s *Server) handleIndexStatusTool(ctx context.Context, _ map[string]any) (*IndexStatusOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	s.logger.Info("index_status started", slog.String("request_id", requestID))

	var actualProvider, actualModel, semanticQuality, status string
	var dimensions int
	var isFallbackActive bool

	if s.embedder != nil {
		actualModel = s.embedder.ModelName()
		dimensions = s.embedder.Dimensions()
		isFallbackActive = actualModel == "static" || dimensions == embed.StaticDimensions
		if isFallbackActive {
			actualProvider = "static"
			semanticQuality = "low"
		} else {
			actualProvider = "hugot"
			semanticQuality = "high"
		}
		if s.embedder.Available(ctx) {
			status = "ready"
		} else {
			status = "unavailable"
		}
	} else {
		actualProvider = "none"
		actualModel = "none"
		isFallbackActive = true
		semanticQuality = "none"
		status = "unavailable"
	}

	detector := NewProjectDetector(s.rootPath, s.logger)
	projectInfo := detector.Detect()

	branch := store.DefaultBranch
	fileCount, _ := s.metadata.CountFiles(ctx, branch)
	chunkCount, _ := s.metadata.CountChunks(ctx, branch)

	output := &IndexStatusOutput{
		Project: *projectInfo,
		Stats: IndexStats{
			FileCount:   fileCount,
			ChunkCount:  chunkCount,
			LastIndexed: time.Now().Format(time.RFC3339),
		},
		Embeddings: EmbeddingInfo{
			Provider:         s.config.Embeddings.Provider,
			Model:            s.config.Embeddings.Model,
			Status:           status,
			ActualProvider:   actualProvider,
			ActualModel:      actualModel,
			Dimensions:       dimensions,
			IsFallbackActive: isFallbackActive,
			SemanticQuality:  semanticQuality,
		},
	}

	s.mu.RLock()
	progress := s.indexProgress
	s.mu.RUnlock()

	if progress != nil {
		snap := progress.Snapshot()
		output.Indexing = &IndexingProgress{
			Status:         snap.Status,
			Stage:          snap.Stage,
			FilesTotal:     snap.FilesTotal,
			FilesProcessed: snap.FilesProcessed,
			ChunksIndexed:  snap.ChunksIndexed,
			ProgressPct:    snap.ProgressPct,
			ElapsedSeconds: snap.ElapsedSeconds,
			ErrorMessage:   snap.ErrorMessage,
		}
	}

	s.logger.Info("index_status completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.String("project_name", projectInfo.Name))

	return output, nil
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	s.logger.Debug("registering MCP tools")

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Primary search tool. Runs hybrid keyword+semantic retrieval over a full-codebase index, expands through the call/import graph, and assembles a token-budgeted context block.",
	}, s.mcpSearchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "impact",
		Description: "Reports the blast radius of changing a symbol: direct and transitive dependents, a risk tier, and a confidence tier derived from edge provenance.",
	}, s.mcpImpactHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: "Check if the codebase index is ready and which embedder is active.",
	}, s.mcpIndexStatusHandler)

	s.logger.Info("MCP tools registered", slog.Int("count", 3))
}

// mcpSearchHandler is the MCP SDK handler for the search tool.
func (s *Server) mcpSearchHandler(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if input.Query == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}

	opts := search.DefaultQueryOptions()
	opts.QueryText = input.Query
	opts.PathPrefix = input.PathPrefix
	opts.FilePatterns = input.Scope
	if input.Limit > 0 {
		opts.MaxTokens = input.Limit
	}
	if input.Rerank != "" {
		opts.Rerank = search.RerankMode(input.Rerank)
	}

	result, err := s.orchestrator.Query(ctx, opts)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}

	return nil, SearchOutput{
		Results:    ToSearchResultOutputs(result),
		Confidence: result.Confidence.Tier,
	}, nil
}

// ImpactInput defines the input schema for the impact tool.
type ImpactInput struct {
	SymbolID string `json:"symbol_id" jsonschema:"the symbol ID to analyze"`
	MaxDepth int    `json:"max_depth,omitempty" jsonschema:"maximum transitive hop count, default 10"`
}

// ImpactOutput defines the output schema for the impact tool.
type ImpactOutput struct {
	RiskTier       string `json:"risk_tier"`
	ConfidenceTier string `json:"confidence_tier"`
	DirectCount    int    `json:"direct_count"`
	TransitiveCount int   `json:"transitive_count"`
	Summary        string `json:"summary"`
}

// mcpImpactHandler is the MCP SDK handler for the impact tool.
func (s *Server) mcpImpactHandler(ctx context.Context, _ *mcp.CallToolRequest, input ImpactInput) (
	*mcp.CallToolResult,
	ImpactOutput,
	error,
) {
	if input.SymbolID == "" {
		return nil, ImpactOutput{}, NewInvalidParamsError("symbol_id parameter is required")
	}
	maxDepth := input.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 10
	}
	report, err := analyzeImpact(ctx, s.metadata, input.SymbolID, maxDepth)
	if err != nil {
		return nil, ImpactOutput{}, MapError(err)
	}
	return nil, ImpactOutput{
		RiskTier:        string(report.RiskTier),
		ConfidenceTier:  report.ConfidenceTier,
		DirectCount:     len(report.Direct),
		TransitiveCount: len(report.Transitive),
		Summary:         FormatImpactReport(report),
	}, nil
}

// mcpIndexStatusHandler is the MCP SDK handler for the index_status tool.
func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	output, err := s.handleIndexStatusTool(ctx, nil)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, output, nil
}

// ListResources returns all available resources.
func (s *Server) ListResources(ctx context.Context, cursor string) ([]ResourceInfo, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files, err := s.metadata.ListFiles(ctx, store.DefaultBranch)
	if err != nil {
		return nil, "", err
	}

	resources := make([]ResourceInfo, 0, len(files))
	for _, f := range files {
		resources = append(resources, ResourceInfo{
			URI:      fmt.Sprintf("file://%s", f.Path),
			Name:     f.Path,
			MIMEType: mimeTypeForLanguage(f.Language),
		})
	}

	return resources, "", nil
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (*ResourceContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chunkID string
	if strings.HasPrefix(uri, "chunk://") {
		chunkID = strings.TrimPrefix(uri, "chunk://")
	} else {
		return nil, NewResourceNotFoundError(uri)
	}

	chunk, err := s.metadata.GetChunk(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	if chunk == nil {
		return nil, NewResourceNotFoundError(uri)
	}

	return &ResourceContent{
		URI:      uri,
		Content:  chunk.Content,
		MIMEType: mimeTypeForLanguage(chunk.Language),
	}, nil
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	s.logger.Info("starting MCP server",
		slog.String("transport", transport),
		slog.String("addr", addr))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
		}
		return err
	case "sse":
		return fmt.Errorf("SSE transport not yet implemented")
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases server resources.
func (s *Server) Close() error {
	return nil
}

func mimeTypeForLanguage(lang string) string {
	switch strings.ToLower(lang) {
	case "go":
		return "text/x-go"
	case "typescript", "ts":
		return "text/typescript"
	case "javascript", "js":
		return "text/javascript"
	case "python", "py":
		return "text/x-python"
	case "rust", "rs":
		return "text/x-rust"
	case "java":
		return "text/x-java"
	case "c":
		return "text/x-c"
	case "cpp", "c++":
		return "text/x-c++"
	case "markdown", "md":
		return "text/markdown"
	default:
		return "text/plain"
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
