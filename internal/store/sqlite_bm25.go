package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteKeywordIndex implements KeywordIndex using SQLite FTS5.
// It provides concurrent multi-process access via WAL mode.
type SQLiteKeywordIndex struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	config    BM25Config
	closed    bool
	stopWords map[string]struct{}
}

// Verify interface implementation at compile time
var _ KeywordIndex = (*SQLiteKeywordIndex)(nil)

// validateSQLiteIntegrity checks if a SQLite FTS5 index is valid before opening.
// Returns nil if valid, error describing corruption if not.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Database doesn't exist, will be created
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
                       WHERE type='table' AND name='fts_content'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("FTS5 table 'fts_content' missing")
	}

	return nil
}

// NewSQLiteKeywordIndex creates a new SQLite FTS5-based keyword index.
// If path is empty, creates an in-memory index for testing.
func NewSQLiteKeywordIndex(path string, config BM25Config) (*SQLiteKeywordIndex, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateSQLiteIntegrity(path); validErr != nil {
			slog.Warn("keyword_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("keyword index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			slog.Info("keyword_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))
		}

		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	// IMPORTANT: Use modernc.org/sqlite driver (pure Go, no CGO)
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
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	idx := &SQLiteKeywordIndex{
		db:        db,
		path:      path,
		config:    config,
		stopWords: BuildStopWordMap(config.StopWords),
	}

	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return idx, nil
}

// initSchema creates the FTS5 virtual table and supporting tables.
func (s *SQLiteKeywordIndex) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	-- content_id/content_type/file_path/name are UNINDEXED: stored but not
	-- searchable, used for path scoping and exact-name boost.
	-- content stores pre-tokenized text (camelCase/snake_case split).
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_content USING fts5(
		content_id UNINDEXED,
		content_type UNINDEXED,
		file_path UNINDEXED,
		name UNINDEXED,
		content,
		tokenize='unicode61'
	);

	CREATE TABLE IF NOT EXISTS doc_ids (
		content_id TEXT PRIMARY KEY,
		file_path TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Index adds documents to the index. If a document ID already exists, it
// is updated (delete + insert), since FTS5 doesn't support REPLACE.
func (s *SQLiteKeywordIndex) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	deleteStmt, err := tx.PrepareContext(ctx, `DELETE FROM fts_content WHERE content_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}
	defer deleteStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO fts_content(content_id, content_type, file_path, name, content) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare FTS statement: %w", err)
	}
	defer insertStmt.Close()

	idStmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO doc_ids(content_id, file_path) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare ID statement: %w", err)
	}
	defer idStmt.Close()

	for _, doc := range docs {
		tokens := TokenizeCode(doc.Content)
		tokens = FilterStopWords(tokens, s.stopWords)
		processedContent := strings.Join(tokens, " ")

		if _, err := deleteStmt.ExecContext(ctx, doc.ContentID); err != nil {
			return fmt.Errorf("failed to delete existing document %s: %w", doc.ContentID, err)
		}

		if _, err := insertStmt.ExecContext(ctx, doc.ContentID, string(doc.ContentType), doc.FilePath, doc.Name, processedContent); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ContentID, err)
		}
		if _, err := idStmt.ExecContext(ctx, doc.ContentID, doc.FilePath); err != nil {
			return fmt.Errorf("failed to track document ID %s: %w", doc.ContentID, err)
		}
	}

	return tx.Commit()
}

// Search returns documents matching query, scored by BM25, optionally
// scoped by path prefix or glob patterns, with an exact-name boost for
// documents whose name exactly matches the raw (untokenized) query.
func (s *SQLiteKeywordIndex) Search(ctx context.Context, queryStr string, opts KeywordSearchOptions) ([]*KeywordResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	if strings.TrimSpace(queryStr) == "" {
		return []*KeywordResult{}, nil
	}

	matchExpr, tokens := BuildFTSMatchQuery(queryStr)
	if matchExpr == "" {
		return []*KeywordResult{}, nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	var sb strings.Builder
	args := []any{matchExpr}
	sb.WriteString(`SELECT content_id, file_path, name, bm25(fts_content) as score
		FROM fts_content WHERE content MATCH ?`)

	if opts.PathPrefix != "" {
		sb.WriteString(" AND file_path LIKE ? ESCAPE '\\'")
		args = append(args, GlobToLike(opts.PathPrefix+"**"))
	}
	for _, pattern := range opts.FilePatterns {
		sb.WriteString(" AND file_path LIKE ? ESCAPE '\\'")
		args = append(args, GlobToLike(pattern))
	}
	sb.WriteString(" ORDER BY score LIMIT ?")
	args = append(args, limit*4) // over-fetch, exact-name boost may reorder

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []*KeywordResult{}, nil
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	type hit struct {
		id, name string
		score    float64
	}
	var hits []hit
	for rows.Next() {
		var filePath string
		var h hit
		if err := rows.Scan(&h.id, &filePath, &h.name, &h.score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		h.score = -h.score // FTS5 bm25() returns negative values
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rawLower := strings.ToLower(strings.TrimSpace(opts.RawQuery))
	results := make([]*KeywordResult, 0, len(hits))
	for _, h := range hits {
		score := h.score
		if rawLower != "" && strings.ToLower(h.name) == rawLower {
			score *= 2.0 // exact-name boost
		}
		results = append(results, &KeywordResult{
			ContentID:    h.id,
			Score:        score,
			MatchedTerms: tokens,
		})
	}

	// Re-sort after boosting, then trim to limit.
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
	if len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// Delete removes documents from the index.
func (s *SQLiteKeywordIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	inClause := strings.Join(placeholders, ",")

	ftsQuery := fmt.Sprintf("DELETE FROM fts_content WHERE content_id IN (%s)", inClause)
	if _, err := tx.ExecContext(ctx, ftsQuery, args...); err != nil {
		return fmt.Errorf("failed to delete from FTS: %w", err)
	}

	idsQuery := fmt.Sprintf("DELETE FROM doc_ids WHERE content_id IN (%s)", inClause)
	if _, err := tx.ExecContext(ctx, idsQuery, args...); err != nil {
		return fmt.Errorf("failed to delete from doc_ids: %w", err)
	}

	return tx.Commit()
}

// AllIDs returns all document IDs in the index.
func (s *SQLiteKeywordIndex) AllIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	rows, err := s.db.Query(`SELECT content_id FROM doc_ids ORDER BY content_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ID: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Stats returns index statistics.
func (s *SQLiteKeywordIndex) Stats() *IndexStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return &IndexStats{}
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM doc_ids`).Scan(&count); err != nil {
		return &IndexStats{}
	}

	return &IndexStats{DocumentCount: count}
}

// Save forces a WAL checkpoint to ensure durability.
func (s *SQLiteKeywordIndex) Save(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Load opens an existing index from disk.
func (s *SQLiteKeywordIndex) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil && !s.closed {
		_ = s.db.Close()
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}

	s.db = db
	s.path = path
	s.closed = false

	return nil
}

// Close closes the index, checkpointing the WAL first.
func (s *SQLiteKeywordIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}
