package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaDDL is the full, current-version schema for the metadata store.
// Migrations only need to carry forward changes from prior released
// versions; a fresh database is created directly at CurrentSchemaVersion.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS symbols (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	qualified_name     TEXT NOT NULL,
	type               TEXT NOT NULL,
	language           TEXT NOT NULL,
	file_path          TEXT NOT NULL,
	start_line         INTEGER NOT NULL,
	end_line           INTEGER NOT NULL,
	content            TEXT NOT NULL,
	signature          TEXT NOT NULL DEFAULT '',
	docstring          TEXT NOT NULL DEFAULT '',
	content_hash       TEXT NOT NULL,
	is_external        INTEGER NOT NULL DEFAULT 0,
	branch             TEXT NOT NULL DEFAULT 'main',
	embedding_model_id TEXT NOT NULL DEFAULT '',
	updated_at         DATETIME NOT NULL,
	revision_id        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file_path, branch);
CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name, branch);
CREATE INDEX IF NOT EXISTS idx_symbols_qname ON symbols(qualified_name);

CREATE TABLE IF NOT EXISTS edges (
	id           TEXT PRIMARY KEY,
	source_id    TEXT NOT NULL,
	target_id    TEXT NOT NULL,
	type         TEXT NOT NULL,
	confidence   REAL NOT NULL DEFAULT 1.0,
	origin       TEXT NOT NULL,
	branch       TEXT NOT NULL DEFAULT 'main',
	source_range TEXT NOT NULL DEFAULT '',
	target_range TEXT NOT NULL DEFAULT '',
	updated_at   DATETIME NOT NULL,
	metadata     TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id, branch);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id, branch);

CREATE TABLE IF NOT EXISTS files (
	path            TEXT NOT NULL,
	branch          TEXT NOT NULL DEFAULT 'main',
	file_hash       TEXT NOT NULL,
	mtime           DATETIME NOT NULL,
	size            INTEGER NOT NULL DEFAULT 0,
	last_indexed    DATETIME,
	language        TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'pending',
	symbol_count    INTEGER NOT NULL DEFAULT 0,
	importance_rank REAL NOT NULL DEFAULT 0,
	error_message   TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (path, branch)
);

CREATE TABLE IF NOT EXISTS chunks (
	id               TEXT PRIMARY KEY,
	file_path        TEXT NOT NULL,
	start_line       INTEGER NOT NULL,
	end_line         INTEGER NOT NULL,
	content          TEXT NOT NULL,
	chunk_type       TEXT NOT NULL,
	parent_symbol_id TEXT NOT NULL DEFAULT '',
	language         TEXT NOT NULL DEFAULT '',
	content_hash     TEXT NOT NULL,
	branch           TEXT NOT NULL DEFAULT 'main',
	updated_at       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_path, branch);

CREATE TABLE IF NOT EXISTS file_contents (
	file_path    TEXT NOT NULL,
	branch       TEXT NOT NULL DEFAULT 'main',
	content      TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	language     TEXT NOT NULL DEFAULT '',
	updated_at   DATETIME NOT NULL,
	PRIMARY KEY (file_path, branch)
);

CREATE TABLE IF NOT EXISTS repo_map (
	file_path        TEXT NOT NULL,
	branch           TEXT NOT NULL DEFAULT 'main',
	importance_score REAL NOT NULL DEFAULT 0,
	in_degree        INTEGER NOT NULL DEFAULT 0,
	out_degree       INTEGER NOT NULL DEFAULT 0,
	symbol_summary   TEXT NOT NULL DEFAULT '',
	updated_at       DATETIME NOT NULL,
	PRIMARY KEY (file_path, branch)
);

CREATE TABLE IF NOT EXISTS checkpoints (
	id             INTEGER PRIMARY KEY CHECK (id = 1),
	stage          TEXT NOT NULL,
	total          INTEGER NOT NULL,
	embedded_count INTEGER NOT NULL,
	timestamp      DATETIME NOT NULL,
	embedder_model TEXT NOT NULL DEFAULT ''
);
`

// runMigrations brings a database up to CurrentSchemaVersion, creating the
// schema fresh if the database is new. If the stored embedding model id
// differs from wantEmbeddingModel, all derived embedding-bearing state
// (the embedding_model_id recorded in schema_metadata) is reset so the
// caller knows to rebuild vector indices rather than mixing models.
func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	var versionStr string
	err := db.QueryRowContext(ctx, `SELECT value FROM schema_metadata WHERE key = 'schema_version'`).Scan(&versionStr)
	if err == sql.ErrNoRows {
		_, err = db.ExecContext(ctx,
			`INSERT INTO schema_metadata(key, value) VALUES ('schema_version', ?)`,
			fmt.Sprintf("%d", CurrentSchemaVersion))
		return err
	}
	if err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	// No migrations beyond version 1 exist yet; a future bump to
	// CurrentSchemaVersion would add a numbered ALTER TABLE step here and
	// update schema_metadata at the end.
	return nil
}

// embeddingModelMismatch reports whether the database's recorded embedding
// model differs from the one the caller is about to use, meaning all
// stored vectors are stale and the vector indices must be rebuilt.
func embeddingModelMismatch(ctx context.Context, db *sql.DB, wantModel string) (bool, string, error) {
	var current string
	err := db.QueryRowContext(ctx, `SELECT value FROM schema_metadata WHERE key = 'embedding_model_id'`).Scan(&current)
	if err == sql.ErrNoRows {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return current != "" && current != wantModel, current, nil
}
