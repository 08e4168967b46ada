package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kirinuki/internal/models"
)

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db *sql.DB
}

// NewSQLiteCatalog opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteCatalog(dbPath string) (*SQLiteCatalog, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteCatalog{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		doc_id TEXT PRIMARY KEY,
		scope_id TEXT NOT NULL,
		document_name TEXT NOT NULL,
		chunk_strategy TEXT NOT NULL,
		artifact_hash TEXT,
		chunk_count INTEGER NOT NULL,
		warnings TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_scope ON documents(scope_id, updated_at);

	CREATE TABLE IF NOT EXISTS chunks (
		chunk_id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		body TEXT NOT NULL,
		FOREIGN KEY (doc_id) REFERENCES documents(doc_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_doc_position ON chunks(doc_id, position);

	CREATE TABLE IF NOT EXISTS point_marks (
		doc_id TEXT PRIMARY KEY,
		high INTEGER NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// SaveChunkSet upserts the document row, keeping its original created_at, and
// replaces all of its chunks.
func (s *SQLiteCatalog) SaveChunkSet(ctx context.Context, scopeID, artifactHash string, set *models.ChunkSet) error {
	warnings, err := json.Marshal(set.Warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (doc_id, scope_id, document_name, chunk_strategy, artifact_hash, chunk_count, warnings, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(doc_id) DO UPDATE SET
		   scope_id = excluded.scope_id,
		   document_name = excluded.document_name,
		   chunk_strategy = excluded.chunk_strategy,
		   artifact_hash = excluded.artifact_hash,
		   chunk_count = excluded.chunk_count,
		   warnings = excluded.warnings,
		   updated_at = excluded.updated_at`,
		set.DocID, scopeID, set.DocumentName, set.ChunkStrategy, artifactHash,
		len(set.Chunks), string(warnings), now, now,
	)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, set.DocID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM point_marks WHERE doc_id = ?`, set.DocID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (chunk_id, doc_id, position, body) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range set.Chunks {
		body, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal chunk %s: %w", c.ChunkID, err)
		}
		if _, err := stmt.ExecContext(ctx, c.ChunkID, set.DocID, c.Position, string(body)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const documentColumns = `doc_id, scope_id, document_name, chunk_strategy, artifact_hash, chunk_count, warnings, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (*DocumentRecord, error) {
	var rec DocumentRecord
	var hash, warnings sql.NullString
	if err := r.Scan(&rec.DocID, &rec.ScopeID, &rec.DocumentName, &rec.ChunkStrategy,
		&hash, &rec.ChunkCount, &warnings, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.ArtifactHash = hash.String
	if warnings.Valid && warnings.String != "" && warnings.String != "null" {
		if err := json.Unmarshal([]byte(warnings.String), &rec.Warnings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal warnings: %w", err)
		}
	}
	return &rec, nil
}

// GetDocument returns a document record by ID.
func (s *SQLiteCatalog) GetDocument(ctx context.Context, docID string) (*DocumentRecord, error) {
	rec, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE doc_id = ?`, docID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", models.ErrNotFound, docID)
	}
	return rec, err
}

// ListDocuments returns document records with offset and limit.
func (s *SQLiteCatalog) ListDocuments(ctx context.Context, scopeID string, offset, limit int) ([]*DocumentRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE ? = '' OR scope_id = ?
		 ORDER BY updated_at DESC, doc_id LIMIT ? OFFSET ?`,
		scopeID, scopeID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*DocumentRecord
	for rows.Next() {
		rec, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, rec)
	}
	return docs, rows.Err()
}

// GetChunks returns the document's chunks ordered by position.
func (s *SQLiteCatalog) GetChunks(ctx context.Context, docID string) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM chunks WHERE doc_id = ? ORDER BY position`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var c models.Chunk
		if err := json.Unmarshal([]byte(body), &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chunk: %w", err)
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// DeleteDocument removes a document and its chunks. Unknown ids are not an error.
func (s *SQLiteCatalog) DeleteDocument(ctx context.Context, docID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, docID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE doc_id = ?`, docID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM point_marks WHERE doc_id = ?`, docID); err != nil {
		return err
	}
	return tx.Commit()
}

// ReservePoints raises docID's point mark to count. The returned bound is the
// larger of the previous mark and the stored chunk count.
func (s *SQLiteCatalog) ReservePoints(ctx context.Context, docID string, count int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var prev int
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(
		   COALESCE((SELECT high FROM point_marks WHERE doc_id = ?), 0),
		   COALESCE((SELECT chunk_count FROM documents WHERE doc_id = ?), 0))`,
		docID, docID).Scan(&prev)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO point_marks (doc_id, high) VALUES (?, ?)
		 ON CONFLICT(doc_id) DO UPDATE SET high = excluded.high`,
		docID, max(prev, count)); err != nil {
		return 0, err
	}
	return prev, tx.Commit()
}

// SetWarnings overwrites the warnings of a stored document.
func (s *SQLiteCatalog) SetWarnings(ctx context.Context, docID string, warnings []models.Warning) error {
	data, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET warnings = ? WHERE doc_id = ?`, string(data), docID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: document %s", models.ErrNotFound, docID)
	}
	return nil
}

// CountDocuments returns the total number of documents.
func (s *SQLiteCatalog) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// CountChunks returns the total number of chunks.
func (s *SQLiteCatalog) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteCatalog) Close() error {
	return s.db.Close()
}
