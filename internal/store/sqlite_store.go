package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteMetadataStore implements MetadataStore over a single SQLite
// database file in WAL mode. All writes go through a single *sql.DB with
// one open connection, matching the single-writer model the keyword
// index uses (see sqlite_bm25.go).
type SQLiteMetadataStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ MetadataStore = (*SQLiteMetadataStore)(nil)

// NewSQLiteStore opens (or creates) the metadata database at path
// and brings it up to CurrentSchemaVersion. An empty path opens an
// in-memory database, used by tests.
func NewSQLiteStore(path string) (*SQLiteMetadataStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := runMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &SQLiteMetadataStore{db: db, path: path}, nil
}

func (s *SQLiteMetadataStore) checkOpen() error {
	if s.closed {
		return fmt.Errorf("metadata store is closed")
	}
	return nil
}

// --- Schema ---

func (s *SQLiteMetadataStore) SchemaVersion(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM schema_metadata WHERE key = 'schema_version'`).Scan(&v)
	if err == sql.ErrNoRows {
		return CurrentSchemaVersion, nil
	}
	if err != nil {
		return 0, err
	}
	var n int
	_, err = fmt.Sscanf(v, "%d", &n)
	return n, err
}

func (s *SQLiteMetadataStore) EmbeddingModelID(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM schema_metadata WHERE key = 'embedding_model_id'`).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

// SetEmbeddingModelID records the active embedding model. If it differs
// from the previously recorded model, every embedding-bearing row's
// embedding_model_id is cleared so stale vectors aren't served as if
// they matched the new model; the caller is expected to follow with a
// rebuild of the vector indices.
func (s *SQLiteMetadataStore) SetEmbeddingModelID(ctx context.Context, modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	mismatch, _, err := embeddingModelMismatch(ctx, s.db, modelID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if mismatch {
		if _, err := tx.ExecContext(ctx, `UPDATE symbols SET embedding_model_id = ''`); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_metadata(key, value) VALUES ('embedding_model_id', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, modelID); err != nil {
		return err
	}

	return tx.Commit()
}

// --- Symbols ---

func (s *SQLiteMetadataStore) UpsertSymbol(ctx context.Context, sym *Symbol) error {
	return s.UpsertSymbols(ctx, []*Symbol{sym})
}

func (s *SQLiteMetadataStore) UpsertSymbols(ctx context.Context, syms []*Symbol) error {
	if len(syms) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO symbols(id, name, qualified_name, type, language, file_path, start_line, end_line,
			content, signature, docstring, content_hash, is_external, branch, embedding_model_id, updated_at, revision_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, qualified_name=excluded.qualified_name, type=excluded.type,
			language=excluded.language, file_path=excluded.file_path, start_line=excluded.start_line,
			end_line=excluded.end_line, content=excluded.content, signature=excluded.signature,
			docstring=excluded.docstring, content_hash=excluded.content_hash, is_external=excluded.is_external,
			branch=excluded.branch, embedding_model_id=excluded.embedding_model_id,
			updated_at=excluded.updated_at, revision_id=excluded.revision_id`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sym := range syms {
		branch := sym.Branch
		if branch == "" {
			branch = DefaultBranch
		}
		if _, err := stmt.ExecContext(ctx, sym.ID, sym.Name, sym.QualifiedName, string(sym.Type), sym.Language,
			sym.FilePath, sym.StartLine, sym.EndLine, sym.Content, sym.Signature, sym.Docstring, sym.ContentHash,
			boolToInt(sym.IsExternal), branch, sym.EmbeddingModelID, sym.UpdatedAt, sym.RevisionID); err != nil {
			return fmt.Errorf("upsert symbol %s: %w", sym.ID, err)
		}
	}

	return tx.Commit()
}

func scanSymbol(row interface{ Scan(...any) error }) (*Symbol, error) {
	var sym Symbol
	var typ string
	var isExternal int
	if err := row.Scan(&sym.ID, &sym.Name, &sym.QualifiedName, &typ, &sym.Language, &sym.FilePath,
		&sym.StartLine, &sym.EndLine, &sym.Content, &sym.Signature, &sym.Docstring, &sym.ContentHash,
		&isExternal, &sym.Branch, &sym.EmbeddingModelID, &sym.UpdatedAt, &sym.RevisionID); err != nil {
		return nil, err
	}
	sym.Type = SymbolType(typ)
	sym.IsExternal = isExternal != 0
	return &sym, nil
}

const symbolColumns = `id, name, qualified_name, type, language, file_path, start_line, end_line,
	content, signature, docstring, content_hash, is_external, branch, embedding_model_id, updated_at, revision_id`

func (s *SQLiteMetadataStore) GetSymbol(ctx context.Context, id string) (*Symbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+symbolColumns+` FROM symbols WHERE id = ?`, id)
	sym, err := scanSymbol(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sym, err
}

func (s *SQLiteMetadataStore) GetSymbols(ctx context.Context, ids []string) ([]*Symbol, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	placeholders, args := inClause(ids)
	query := fmt.Sprintf(`SELECT %s FROM symbols WHERE id IN (%s)`, symbolColumns, placeholders)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Symbol
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

func (s *SQLiteMetadataStore) GetSymbolsByFile(ctx context.Context, filePath, branch string) ([]*Symbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	branch = orDefaultBranch(branch)
	rows, err := s.db.QueryContext(ctx, `SELECT `+symbolColumns+` FROM symbols WHERE file_path = ? AND branch = ? ORDER BY start_line`, filePath, branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Symbol
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

func (s *SQLiteMetadataStore) FindSymbolsByName(ctx context.Context, name, branch string, limit int) ([]*Symbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	branch = orDefaultBranch(branch)
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+symbolColumns+` FROM symbols WHERE name = ? AND branch = ? ORDER BY qualified_name LIMIT ?`,
		name, branch, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Symbol
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

func (s *SQLiteMetadataStore) DeleteSymbol(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM symbols WHERE id = ?`, id)
	return err
}

func (s *SQLiteMetadataStore) DeleteSymbolsByFile(ctx context.Context, filePath, branch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM symbols WHERE file_path = ? AND branch = ?`, filePath, orDefaultBranch(branch))
	return err
}

func (s *SQLiteMetadataStore) CountSymbols(ctx context.Context, branch string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM symbols WHERE branch = ?`, orDefaultBranch(branch)).Scan(&n)
	return n, err
}

// --- Edges ---

func (s *SQLiteMetadataStore) UpsertEdge(ctx context.Context, edge *Edge) error {
	return s.UpsertEdges(ctx, []*Edge{edge})
}

func (s *SQLiteMetadataStore) UpsertEdges(ctx context.Context, edges []*Edge) error {
	if len(edges) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO edges(id, source_id, target_id, type, confidence, origin, branch, source_range, target_range, updated_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			confidence=excluded.confidence, origin=excluded.origin, source_range=excluded.source_range,
			target_range=excluded.target_range, updated_at=excluded.updated_at, metadata=excluded.metadata`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range edges {
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal edge metadata: %w", err)
		}
		branch := orDefaultBranch(e.Branch)
		if _, err := stmt.ExecContext(ctx, e.ID, e.SourceID, e.TargetID, string(e.Type), e.Confidence,
			string(e.Origin), branch, e.SourceRange, e.TargetRange, e.UpdatedAt, string(meta)); err != nil {
			return fmt.Errorf("upsert edge %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

const edgeColumns = `id, source_id, target_id, type, confidence, origin, branch, source_range, target_range, updated_at, metadata`

func scanEdge(row interface{ Scan(...any) error }) (*Edge, error) {
	var e Edge
	var typ, origin, meta string
	if err := row.Scan(&e.ID, &e.SourceID, &e.TargetID, &typ, &e.Confidence, &origin, &e.Branch,
		&e.SourceRange, &e.TargetRange, &e.UpdatedAt, &meta); err != nil {
		return nil, err
	}
	e.Type = EdgeType(typ)
	e.Origin = EdgeOrigin(origin)
	if meta != "" {
		_ = json.Unmarshal([]byte(meta), &e.Metadata)
	}
	return &e, nil
}

func (s *SQLiteMetadataStore) GetEdgesFrom(ctx context.Context, sourceID, branch string) ([]*Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+edgeColumns+` FROM edges WHERE source_id = ? AND branch = ?`, sourceID, orDefaultBranch(branch))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteMetadataStore) GetEdgesTo(ctx context.Context, targetID, branch string) ([]*Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+edgeColumns+` FROM edges WHERE target_id = ? AND branch = ?`, targetID, orDefaultBranch(branch))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteMetadataStore) DeleteEdgesForSymbol(ctx context.Context, symbolID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM edges WHERE source_id = ? OR target_id = ?`, symbolID, symbolID)
	return err
}

func (s *SQLiteMetadataStore) CountEdges(ctx context.Context, branch string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges WHERE branch = ?`, orDefaultBranch(branch)).Scan(&n)
	return n, err
}

func (s *SQLiteMetadataStore) AllEdges(ctx context.Context, branch string) ([]*Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+edgeColumns+` FROM edges WHERE branch = ?`, orDefaultBranch(branch))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Files ---

func (s *SQLiteMetadataStore) UpsertFile(ctx context.Context, f *File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	branch := orDefaultBranch(f.Branch)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files(path, branch, file_hash, mtime, size, last_indexed, language, status, symbol_count, importance_rank, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path, branch) DO UPDATE SET
			file_hash=excluded.file_hash, mtime=excluded.mtime, size=excluded.size,
			last_indexed=excluded.last_indexed, language=excluded.language, status=excluded.status,
			symbol_count=excluded.symbol_count, importance_rank=excluded.importance_rank, error_message=excluded.error_message`,
		f.Path, branch, f.FileHash, f.MTime, f.Size, f.LastIndexed, f.Language, string(f.Status),
		f.SymbolCount, f.ImportanceRank, f.ErrorMessage)
	return err
}

func scanFile(row interface{ Scan(...any) error }) (*File, error) {
	var f File
	var status string
	if err := row.Scan(&f.Path, &f.Branch, &f.FileHash, &f.MTime, &f.Size, &f.LastIndexed, &f.Language,
		&status, &f.SymbolCount, &f.ImportanceRank, &f.ErrorMessage); err != nil {
		return nil, err
	}
	f.Status = FileStatus(status)
	return &f, nil
}

const fileColumns = `path, branch, file_hash, mtime, size, last_indexed, language, status, symbol_count, importance_rank, error_message`

func (s *SQLiteMetadataStore) GetFile(ctx context.Context, path, branch string) (*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE path = ? AND branch = ?`, path, orDefaultBranch(branch))
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return f, err
}

func (s *SQLiteMetadataStore) ListFiles(ctx context.Context, branch string) ([]*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files WHERE branch = ? ORDER BY path`, orDefaultBranch(branch))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteMetadataStore) DeleteFile(ctx context.Context, path, branch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE path = ? AND branch = ?`, path, orDefaultBranch(branch))
	return err
}

func (s *SQLiteMetadataStore) CountFiles(ctx context.Context, branch string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE branch = ?`, orDefaultBranch(branch)).Scan(&n)
	return n, err
}

// --- Chunks ---

func (s *SQLiteMetadataStore) UpsertChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks(id, file_path, start_line, end_line, content, chunk_type, parent_symbol_id, language, content_hash, branch, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			file_path=excluded.file_path, start_line=excluded.start_line, end_line=excluded.end_line,
			content=excluded.content, chunk_type=excluded.chunk_type, parent_symbol_id=excluded.parent_symbol_id,
			language=excluded.language, content_hash=excluded.content_hash, branch=excluded.branch, updated_at=excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		branch := orDefaultBranch(c.Branch)
		if _, err := stmt.ExecContext(ctx, c.ID, c.FilePath, c.StartLine, c.EndLine, c.Content,
			string(c.ChunkType), c.ParentSymbolID, c.Language, c.ContentHash, branch, c.UpdatedAt); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

const chunkColumns = `id, file_path, start_line, end_line, content, chunk_type, parent_symbol_id, language, content_hash, branch, updated_at`

func scanChunk(row interface{ Scan(...any) error }) (*Chunk, error) {
	var c Chunk
	var ctype string
	if err := row.Scan(&c.ID, &c.FilePath, &c.StartLine, &c.EndLine, &c.Content, &ctype,
		&c.ParentSymbolID, &c.Language, &c.ContentHash, &c.Branch, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.ChunkType = ChunkType(ctype)
	return &c, nil
}

func (s *SQLiteMetadataStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteMetadataStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	placeholders, args := inClause(ids)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM chunks WHERE id IN (%s)`, chunkColumns, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteMetadataStore) GetChunksByFile(ctx context.Context, filePath, branch string) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE file_path = ? AND branch = ? ORDER BY start_line`, filePath, orDefaultBranch(branch))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteMetadataStore) DeleteChunksByFile(ctx context.Context, filePath, branch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE file_path = ? AND branch = ?`, filePath, orDefaultBranch(branch))
	return err
}

func (s *SQLiteMetadataStore) CountChunks(ctx context.Context, branch string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE branch = ?`, orDefaultBranch(branch)).Scan(&n)
	return n, err
}

// --- File contents ---

func (s *SQLiteMetadataStore) UpsertFileContent(ctx context.Context, fc *FileContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	branch := orDefaultBranch(fc.Branch)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_contents(file_path, branch, content, content_hash, language, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_path, branch) DO UPDATE SET
			content=excluded.content, content_hash=excluded.content_hash, language=excluded.language, updated_at=excluded.updated_at`,
		fc.FilePath, branch, fc.Content, fc.ContentHash, fc.Language, fc.UpdatedAt)
	return err
}

func (s *SQLiteMetadataStore) GetFileContent(ctx context.Context, filePath, branch string) (*FileContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var fc FileContent
	err := s.db.QueryRowContext(ctx,
		`SELECT file_path, branch, content, content_hash, language, updated_at FROM file_contents WHERE file_path = ? AND branch = ?`,
		filePath, orDefaultBranch(branch)).Scan(&fc.FilePath, &fc.Branch, &fc.Content, &fc.ContentHash, &fc.Language, &fc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fc, nil
}

func (s *SQLiteMetadataStore) DeleteFileContent(ctx context.Context, filePath, branch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM file_contents WHERE file_path = ? AND branch = ?`, filePath, orDefaultBranch(branch))
	return err
}

// --- Repo map ---

func (s *SQLiteMetadataStore) UpsertRepoMapEntries(ctx context.Context, entries []*RepoMapEntry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO repo_map(file_path, branch, importance_score, in_degree, out_degree, symbol_summary, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_path, branch) DO UPDATE SET
			importance_score=excluded.importance_score, in_degree=excluded.in_degree,
			out_degree=excluded.out_degree, symbol_summary=excluded.symbol_summary, updated_at=excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		branch := orDefaultBranch(e.Branch)
		if _, err := stmt.ExecContext(ctx, e.FilePath, branch, e.ImportanceScore, e.InDegree, e.OutDegree, e.SymbolSummary, e.UpdatedAt); err != nil {
			return fmt.Errorf("upsert repo map entry %s: %w", e.FilePath, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteMetadataStore) GetRepoMap(ctx context.Context, branch string, limit int, directory string) ([]*RepoMapEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT file_path, branch, importance_score, in_degree, out_degree, symbol_summary, updated_at
		FROM repo_map WHERE branch = ?`
	args := []any{orDefaultBranch(branch)}
	if directory != "" {
		query += " AND file_path LIKE ? ESCAPE '\\'"
		args = append(args, GlobToLike(strings.TrimSuffix(directory, "/")+"/**"))
	}
	query += " ORDER BY importance_score DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RepoMapEntry
	for rows.Next() {
		var e RepoMapEntry
		if err := rows.Scan(&e.FilePath, &e.Branch, &e.ImportanceScore, &e.InDegree, &e.OutDegree, &e.SymbolSummary, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *SQLiteMetadataStore) ClearRepoMap(ctx context.Context, branch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM repo_map WHERE branch = ?`, orDefaultBranch(branch))
	return err
}

// --- Checkpoints ---

func (s *SQLiteMetadataStore) SaveCheckpoint(ctx context.Context, cp *IndexCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints(id, stage, total, embedded_count, timestamp, embedder_model)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stage=excluded.stage, total=excluded.total, embedded_count=excluded.embedded_count,
			timestamp=excluded.timestamp, embedder_model=excluded.embedder_model`,
		cp.Stage, cp.Total, cp.EmbeddedCount, cp.Timestamp, cp.EmbedderModel)
	return err
}

func (s *SQLiteMetadataStore) LoadCheckpoint(ctx context.Context) (*IndexCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var cp IndexCheckpoint
	err := s.db.QueryRowContext(ctx, `SELECT stage, total, embedded_count, timestamp, embedder_model FROM checkpoints WHERE id = 1`).
		Scan(&cp.Stage, &cp.Total, &cp.EmbeddedCount, &cp.Timestamp, &cp.EmbedderModel)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *SQLiteMetadataStore) ClearCheckpoint(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = 1`)
	return err
}

// --- Maintenance ---

// ClearDerived removes everything re-derivable from a fresh parse pass
// (symbols, edges, chunks, repo map entries) while keeping the files
// table's history, so a rebuild can still report what used to be indexed.
func (s *SQLiteMetadataStore) ClearDerived(ctx context.Context, branch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	branch = orDefaultBranch(branch)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"symbols", "edges", "chunks", "repo_map", "file_contents"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE branch = ?`, table), branch); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteMetadataStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// --- helpers ---

func orDefaultBranch(branch string) string {
	if branch == "" {
		return DefaultBranch
	}
	return branch
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func inClause(ids []string) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ","), args
}
