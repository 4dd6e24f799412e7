// Package store provides the persistence layer for the index: a relational
// metadata store (SQLite), a full-text keyword index (SQLite FTS5 or
// Bleve), and a dense vector index (HNSW or a pure-Go cosine fallback).
package store

import (
	"context"
	"fmt"
	"time"
)

// CurrentSchemaVersion is the schema version this build of the store
// expects. Opening an older database runs migrations up to this version;
// opening a newer one is rejected.
const CurrentSchemaVersion = 1

// SymbolType enumerates the kinds of symbol the extractor recognizes.
type SymbolType string

const (
	SymbolTypeFunction   SymbolType = "FUNCTION"
	SymbolTypeClass      SymbolType = "CLASS"
	SymbolTypeMethod     SymbolType = "METHOD"
	SymbolTypeInterface  SymbolType = "INTERFACE"
	SymbolTypeModule     SymbolType = "MODULE"
	SymbolTypeEnum       SymbolType = "ENUM"
	SymbolTypeVariable   SymbolType = "VARIABLE"
	SymbolTypeTypeAlias  SymbolType = "TYPE_ALIAS"
	SymbolTypeProperty   SymbolType = "PROPERTY"
)

// EdgeType enumerates the kinds of relation tracked between symbols.
type EdgeType string

const (
	EdgeTypeCalls      EdgeType = "CALLS"
	EdgeTypeInherits   EdgeType = "INHERITS"
	EdgeTypeImplements EdgeType = "IMPLEMENTS"
	EdgeTypeImports    EdgeType = "IMPORTS"
	EdgeTypeUses       EdgeType = "USES"
)

// EdgeOrigin records how an edge was derived.
type EdgeOrigin string

const (
	EdgeOriginLSP       EdgeOrigin = "lsp"
	EdgeOriginSCIP      EdgeOrigin = "scip"
	EdgeOriginInference EdgeOrigin = "ast-inference"
)

// FileStatus is the per-file state-machine status.
type FileStatus string

const (
	FileStatusPending  FileStatus = "pending"
	FileStatusIndexing FileStatus = "indexing"
	FileStatusIndexed  FileStatus = "indexed"
	FileStatusError    FileStatus = "error"
	FileStatusStale    FileStatus = "stale"
)

// ChunkType distinguishes symbol-aligned chunks from fixed-window blocks
// and whole-file chunks.
type ChunkType string

const (
	ChunkTypeSymbol ChunkType = "symbol"
	ChunkTypeBlock  ChunkType = "block"
	ChunkTypeFile   ChunkType = "file"
)

// Granularity is the scale at which content is indexed and retrieved.
type Granularity string

const (
	GranularitySymbol Granularity = "symbol"
	GranularityChunk  Granularity = "chunk"
	GranularityFile   Granularity = "file"
)

// DefaultBranch is used when the caller does not track branches.
const DefaultBranch = "main"

// Symbol is a named, located code entity.
type Symbol struct {
	ID                string
	Name              string
	QualifiedName     string
	Type              SymbolType
	Language          string
	FilePath          string
	StartLine         int
	EndLine           int
	Content           string
	Signature         string
	Docstring         string
	ContentHash       string
	IsExternal        bool
	Branch            string
	EmbeddingModelID  string
	UpdatedAt         time.Time
	RevisionID        string
}

// Edge is a directed relation between two symbols.
type Edge struct {
	ID          string
	SourceID    string
	TargetID    string
	Type        EdgeType
	Confidence  float64
	Origin      EdgeOrigin
	Branch      string
	SourceRange string
	TargetRange string
	UpdatedAt   time.Time
	Metadata    map[string]string
}

// File is one tracked path at one branch.
type File struct {
	Path            string
	FileHash        string
	MTime           time.Time
	Size            int64
	LastIndexed     time.Time
	Language        string
	Branch          string
	Status          FileStatus
	SymbolCount     int
	ImportanceRank  float64
	ErrorMessage    string
}

// Chunk is a bounded, retrievable line range of content.
type Chunk struct {
	ID              string
	FilePath        string
	StartLine       int
	EndLine         int
	Content         string
	ChunkType       ChunkType
	ParentSymbolID  string
	Language        string
	ContentHash     string
	Branch          string
	UpdatedAt       time.Time
}

// FileContent is the full-file snapshot used for file-granularity
// retrieval and worktree dedup.
type FileContent struct {
	FilePath    string
	Branch      string
	Content     string
	ContentHash string
	Language    string
	UpdatedAt   time.Time
}

// RepoMapEntry is a derived, per-file connectivity summary.
type RepoMapEntry struct {
	FilePath        string
	Branch          string
	ImportanceScore float64
	InDegree        int
	OutDegree       int
	SymbolSummary   string
	UpdatedAt       time.Time
}

// ConfidenceDiagnostics is the per-query multi-signal confidence report
// attached to every query result's metadata.
type ConfidenceDiagnostics struct {
	RetrievalAgreement float64
	ScoreSpread        float64
	ScopeConcentration float64
	UniqueFiles        int
	TotalCandidates    int
	Composite          float64
	Tier               string
	TierReason         string
}

// IndexCheckpoint is the saved state of an in-progress indexing run, used
// to resume after a restart.
type IndexCheckpoint struct {
	Stage         string
	Total         int
	EmbeddedCount int
	Timestamp     time.Time
	EmbedderModel string
}

// IndexInfo summarizes an on-disk index for introspection (the `index info`
// command / the `status` operation).
type IndexInfo struct {
	Location        string
	ProjectRoot     string
	SchemaVersion   int
	IndexModel      string
	IndexBackend    string
	IndexDimensions int

	SymbolCount    int
	ChunkCount     int
	FileCount      int
	EdgeCount      int
	IndexSizeBytes int64

	CreatedAt time.Time
	UpdatedAt time.Time

	CurrentModel      string
	CurrentBackend    string
	CurrentDimensions int
	Compatible        bool
}

// FileDelta is the result of a refresh() workspace scan.
type FileDelta struct {
	Added    []string
	Modified []string
	Removed  []string
}

// MetadataStore owns the relational tables: symbols, edges, files,
// chunks, file_contents, repo_map, and schema_metadata. A single writer
// serializes mutation; readers may run concurrently (WAL).
type MetadataStore interface {
	// Schema
	SchemaVersion(ctx context.Context) (int, error)
	EmbeddingModelID(ctx context.Context) (string, error)
	SetEmbeddingModelID(ctx context.Context, modelID string) error

	// Symbols
	UpsertSymbol(ctx context.Context, sym *Symbol) error
	UpsertSymbols(ctx context.Context, syms []*Symbol) error
	GetSymbol(ctx context.Context, id string) (*Symbol, error)
	GetSymbols(ctx context.Context, ids []string) ([]*Symbol, error)
	GetSymbolsByFile(ctx context.Context, filePath, branch string) ([]*Symbol, error)
	FindSymbolsByName(ctx context.Context, name, branch string, limit int) ([]*Symbol, error)
	DeleteSymbol(ctx context.Context, id string) error
	DeleteSymbolsByFile(ctx context.Context, filePath, branch string) error
	CountSymbols(ctx context.Context, branch string) (int, error)

	// Edges
	UpsertEdge(ctx context.Context, edge *Edge) error
	UpsertEdges(ctx context.Context, edges []*Edge) error
	GetEdgesFrom(ctx context.Context, sourceID, branch string) ([]*Edge, error)
	GetEdgesTo(ctx context.Context, targetID, branch string) ([]*Edge, error)
	DeleteEdgesForSymbol(ctx context.Context, symbolID string) error
	CountEdges(ctx context.Context, branch string) (int, error)
	AllEdges(ctx context.Context, branch string) ([]*Edge, error)

	// Files
	UpsertFile(ctx context.Context, f *File) error
	GetFile(ctx context.Context, path, branch string) (*File, error)
	ListFiles(ctx context.Context, branch string) ([]*File, error)
	DeleteFile(ctx context.Context, path, branch string) error
	CountFiles(ctx context.Context, branch string) (int, error)

	// Chunks
	UpsertChunks(ctx context.Context, chunks []*Chunk) error
	GetChunk(ctx context.Context, id string) (*Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)
	GetChunksByFile(ctx context.Context, filePath, branch string) ([]*Chunk, error)
	DeleteChunksByFile(ctx context.Context, filePath, branch string) error
	CountChunks(ctx context.Context, branch string) (int, error)

	// File contents
	UpsertFileContent(ctx context.Context, fc *FileContent) error
	GetFileContent(ctx context.Context, filePath, branch string) (*FileContent, error)
	DeleteFileContent(ctx context.Context, filePath, branch string) error

	// Repo map
	UpsertRepoMapEntries(ctx context.Context, entries []*RepoMapEntry) error
	GetRepoMap(ctx context.Context, branch string, limit int, directory string) ([]*RepoMapEntry, error)
	ClearRepoMap(ctx context.Context, branch string) error

	// Checkpoints
	SaveCheckpoint(ctx context.Context, cp *IndexCheckpoint) error
	LoadCheckpoint(ctx context.Context) (*IndexCheckpoint, error)
	ClearCheckpoint(ctx context.Context) error

	// Maintenance
	ClearDerived(ctx context.Context, branch string) error // symbols/edges/chunks/repo_map, keeps files

	Close() error
}

// Document is a unit of indexable text for the keyword index, mirroring
// the fts_content(content_id, content_type, file_path, name, content)
// schema from the specification.
type Document struct {
	ContentID   string
	ContentType Granularity
	FilePath    string
	Name        string
	Content     string
}

// KeywordResult is a single keyword (FTS/BM25) search hit.
type KeywordResult struct {
	ContentID    string
	Score        float64
	MatchedTerms []string
}

// KeywordSearchOptions scopes a keyword search by path and carries the raw
// (unsanitized) query text for the exact-name boost.
type KeywordSearchOptions struct {
	Limit        int
	RawQuery     string
	PathPrefix   string
	FilePatterns []string
}

// IndexStats describes the current state of a keyword index.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// KeywordIndex provides full-text keyword search scored by BM25.
type KeywordIndex interface {
	Index(ctx context.Context, docs []*Document) error
	Search(ctx context.Context, query string, opts KeywordSearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, ids []string) error
	AllIDs() ([]string, error)
	Stats() *IndexStats
	Save(path string) error
	Load(path string) error
	Close() error
}

// BM25Config configures the BM25 scoring function.
type BM25Config struct {
	K1             float64
	B              float64
	StopWords      []string
	MinTokenLength int
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultCodeStopWords,
		MinTokenLength: 2,
	}
}

// DefaultCodeStopWords contains programming keywords filtered out of the
// keyword index so they don't dominate matches.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
}

// MinSimilarity is the floor below which a vector hit is discarded.
// Tuned for code embeddings; natural-language retrieval would use a
// higher threshold.
const MinSimilarity = 0.25

// VectorResult is a single vector (dense KNN) search hit.
type VectorResult struct {
	ID         string
	Distance   float32
	Similarity float32
}

// VectorStoreConfig configures a vector index.
type VectorStoreConfig struct {
	Dimensions     int
	Quantization   string
	Metric         string
	M              int
	EfConstruction int
	EfSearch       int
}

// DefaultVectorStoreConfig returns sensible defaults for a vector index.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Quantization:   "f16",
		Metric:         "cos",
		M:              32,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// VectorStore provides dense nearest-neighbor search over a single
// granularity's vectors.
type VectorStore interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	AllIDs() []string
	Contains(id string) bool
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates a vector's dimension doesn't match the
// index's configured dimension. Changing embedding_model triggers a
// schema-level vector wipe instead of surfacing this to the caller;
// it remains for direct VectorStore callers (e.g. batch backfill).
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'codeintel rebuild')", e.Expected, e.Got)
}
