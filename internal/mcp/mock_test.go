package mcp

import (
	"context"
	"strings"
	"time"

	"github.com/opzero1/codeintel/internal/store"
)

// fakeMetadataStore is an in-memory store.MetadataStore good enough to
// exercise the server's tool handlers without a real SQLite file.
type fakeMetadataStore struct {
	symbols map[string]*store.Symbol
	edges   []*store.Edge
	files   []*store.File
	chunks  map[string]*store.Chunk
}

var (
	_ store.MetadataStore = (*fakeMetadataStore)(nil)
	_ store.KeywordIndex  = (*fakeKeywordIndex)(nil)
	_ store.VectorStore   = (*fakeVectorStore)(nil)
)

func newFakeMetadataStore() *fakeMetadataStore {
	return &fakeMetadataStore{
		symbols: make(map[string]*store.Symbol),
		chunks:  make(map[string]*store.Chunk),
	}
}

func (f *fakeMetadataStore) addSymbol(sym *store.Symbol) {
	if sym.Branch == "" {
		sym.Branch = store.DefaultBranch
	}
	f.symbols[sym.ID] = sym
}

func (f *fakeMetadataStore) SchemaVersion(context.Context) (int, error) { return store.CurrentSchemaVersion, nil }
func (f *fakeMetadataStore) EmbeddingModelID(context.Context) (string, error) { return "", nil }
func (f *fakeMetadataStore) SetEmbeddingModelID(context.Context, string) error { return nil }

func (f *fakeMetadataStore) UpsertSymbol(_ context.Context, sym *store.Symbol) error {
	f.addSymbol(sym)
	return nil
}
func (f *fakeMetadataStore) UpsertSymbols(_ context.Context, syms []*store.Symbol) error {
	for _, s := range syms {
		f.addSymbol(s)
	}
	return nil
}
func (f *fakeMetadataStore) GetSymbol(_ context.Context, id string) (*store.Symbol, error) {
	return f.symbols[id], nil
}
func (f *fakeMetadataStore) GetSymbols(_ context.Context, ids []string) ([]*store.Symbol, error) {
	out := make([]*store.Symbol, 0, len(ids))
	for _, id := range ids {
		if s, ok := f.symbols[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}
func (f *fakeMetadataStore) GetSymbolsByFile(_ context.Context, filePath, _ string) ([]*store.Symbol, error) {
	var out []*store.Symbol
	for _, s := range f.symbols {
		if s.FilePath == filePath {
			out = append(out, s)
		}
	}
	return out, nil
}
func (f *fakeMetadataStore) FindSymbolsByName(_ context.Context, name, _ string, limit int) ([]*store.Symbol, error) {
	var out []*store.Symbol
	for _, s := range f.symbols {
		if strings.Contains(s.Name, name) {
			out = append(out, s)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}
func (f *fakeMetadataStore) DeleteSymbol(_ context.Context, id string) error {
	delete(f.symbols, id)
	return nil
}
func (f *fakeMetadataStore) DeleteSymbolsByFile(_ context.Context, filePath, _ string) error {
	for id, s := range f.symbols {
		if s.FilePath == filePath {
			delete(f.symbols, id)
		}
	}
	return nil
}
func (f *fakeMetadataStore) CountSymbols(context.Context, string) (int, error) { return len(f.symbols), nil }

func (f *fakeMetadataStore) UpsertEdge(_ context.Context, e *store.Edge) error {
	f.edges = append(f.edges, e)
	return nil
}
func (f *fakeMetadataStore) UpsertEdges(_ context.Context, es []*store.Edge) error {
	f.edges = append(f.edges, es...)
	return nil
}
func (f *fakeMetadataStore) GetEdgesFrom(_ context.Context, sourceID, _ string) ([]*store.Edge, error) {
	var out []*store.Edge
	for _, e := range f.edges {
		if e.SourceID == sourceID {
			out = append(out, e)
		}
	}
	return out, nil
}
func (f *fakeMetadataStore) GetEdgesTo(_ context.Context, targetID, _ string) ([]*store.Edge, error) {
	var out []*store.Edge
	for _, e := range f.edges {
		if e.TargetID == targetID {
			out = append(out, e)
		}
	}
	return out, nil
}
func (f *fakeMetadataStore) DeleteEdgesForSymbol(_ context.Context, symbolID string) error {
	kept := f.edges[:0]
	for _, e := range f.edges {
		if e.SourceID != symbolID && e.TargetID != symbolID {
			kept = append(kept, e)
		}
	}
	f.edges = kept
	return nil
}
func (f *fakeMetadataStore) CountEdges(context.Context, string) (int, error) { return len(f.edges), nil }
func (f *fakeMetadataStore) AllEdges(context.Context, string) ([]*store.Edge, error) { return f.edges, nil }

func (f *fakeMetadataStore) UpsertFile(_ context.Context, file *store.File) error {
	f.files = append(f.files, file)
	return nil
}
func (f *fakeMetadataStore) GetFile(_ context.Context, path, _ string) (*store.File, error) {
	for _, file := range f.files {
		if file.Path == path {
			return file, nil
		}
	}
	return nil, nil
}
func (f *fakeMetadataStore) ListFiles(context.Context, string) ([]*store.File, error) { return f.files, nil }
func (f *fakeMetadataStore) DeleteFile(_ context.Context, path, _ string) error {
	kept := f.files[:0]
	for _, file := range f.files {
		if file.Path != path {
			kept = append(kept, file)
		}
	}
	f.files = kept
	return nil
}
func (f *fakeMetadataStore) CountFiles(context.Context, string) (int, error) { return len(f.files), nil }

func (f *fakeMetadataStore) UpsertChunks(_ context.Context, chunks []*store.Chunk) error {
	for _, c := range chunks {
		f.chunks[c.ID] = c
	}
	return nil
}
func (f *fakeMetadataStore) GetChunk(_ context.Context, id string) (*store.Chunk, error) {
	return f.chunks[id], nil
}
func (f *fakeMetadataStore) GetChunks(_ context.Context, ids []string) ([]*store.Chunk, error) {
	out := make([]*store.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}
func (f *fakeMetadataStore) GetChunksByFile(_ context.Context, filePath, _ string) ([]*store.Chunk, error) {
	var out []*store.Chunk
	for _, c := range f.chunks {
		if c.FilePath == filePath {
			out = append(out, c)
		}
	}
	return out, nil
}
func (f *fakeMetadataStore) DeleteChunksByFile(_ context.Context, filePath, _ string) error {
	for id, c := range f.chunks {
		if c.FilePath == filePath {
			delete(f.chunks, id)
		}
	}
	return nil
}
func (f *fakeMetadataStore) CountChunks(context.Context, string) (int, error) { return len(f.chunks), nil }

func (f *fakeMetadataStore) UpsertFileContent(context.Context, *store.FileContent) error { return nil }
func (f *fakeMetadataStore) GetFileContent(context.Context, string, string) (*store.FileContent, error) {
	return nil, nil
}
func (f *fakeMetadataStore) DeleteFileContent(context.Context, string, string) error { return nil }

func (f *fakeMetadataStore) UpsertRepoMapEntries(context.Context, []*store.RepoMapEntry) error { return nil }
func (f *fakeMetadataStore) GetRepoMap(context.Context, string, int, string) ([]*store.RepoMapEntry, error) {
	return nil, nil
}
func (f *fakeMetadataStore) ClearRepoMap(context.Context, string) error { return nil }

func (f *fakeMetadataStore) SaveCheckpoint(context.Context, *store.IndexCheckpoint) error { return nil }
func (f *fakeMetadataStore) LoadCheckpoint(context.Context) (*store.IndexCheckpoint, error) {
	return nil, nil
}
func (f *fakeMetadataStore) ClearCheckpoint(context.Context) error { return nil }

func (f *fakeMetadataStore) ClearDerived(context.Context, string) error { return nil }

func (f *fakeMetadataStore) Close() error { return nil }

// fakeKeywordIndex returns a fixed set of results regardless of query.
type fakeKeywordIndex struct {
	results []*store.KeywordResult
}

func (f *fakeKeywordIndex) Index(context.Context, []*store.Document) error { return nil }
func (f *fakeKeywordIndex) Search(context.Context, string, store.KeywordSearchOptions) ([]*store.KeywordResult, error) {
	return f.results, nil
}
func (f *fakeKeywordIndex) Delete(context.Context, []string) error { return nil }
func (f *fakeKeywordIndex) AllIDs() ([]string, error)              { return nil, nil }
func (f *fakeKeywordIndex) Stats() *store.IndexStats                { return &store.IndexStats{} }
func (f *fakeKeywordIndex) Save(string) error                       { return nil }
func (f *fakeKeywordIndex) Load(string) error                       { return nil }
func (f *fakeKeywordIndex) Close() error                            { return nil }

// fakeVectorStore returns a fixed set of results regardless of the query vector.
type fakeVectorStore struct {
	results []*store.VectorResult
}

func (f *fakeVectorStore) Add(context.Context, []string, [][]float32) error { return nil }
func (f *fakeVectorStore) Search(context.Context, []float32, int) ([]*store.VectorResult, error) {
	return f.results, nil
}
func (f *fakeVectorStore) Delete(context.Context, []string) error { return nil }
func (f *fakeVectorStore) AllIDs() []string                       { return nil }
func (f *fakeVectorStore) Contains(string) bool                   { return false }
func (f *fakeVectorStore) Count() int                             { return len(f.results) }
func (f *fakeVectorStore) Save(string) error                       { return nil }
func (f *fakeVectorStore) Load(string) error                       { return nil }
func (f *fakeVectorStore) Close() error                            { return nil }

// symbolFixture builds a minimal but valid symbol for tests.
func symbolFixture(id, name, filePath string) *store.Symbol {
	return &store.Symbol{
		ID:        id,
		Name:      name,
		Type:      store.SymbolTypeFunction,
		Language:  "go",
		FilePath:  filePath,
		StartLine: 10,
		EndLine:   20,
		Content:   "func " + name + "() {}",
		Branch:    store.DefaultBranch,
		UpdatedAt: time.Now(),
	}
}
