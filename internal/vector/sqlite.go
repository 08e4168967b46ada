package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kirinuki/internal/models"
	"github.com/hyperjump/kirinuki/pkg/utils"
)

// SQLiteStore keeps vectors in a SQLite file and searches them by brute force.
// Payload filters are pushed down with json_extract.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at dbPath.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS vector_collections (
		name TEXT PRIMARY KEY,
		dimension INTEGER NOT NULL,
		distance TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS vector_points (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		vector BLOB NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) collectionInfo(ctx context.Context, name string) (int, Distance, error) {
	var dim int
	var dist string
	err := s.db.QueryRowContext(ctx,
		`SELECT dimension, distance FROM vector_collections WHERE name = ?`, name,
	).Scan(&dim, &dist)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", fmt.Errorf("%w: collection %s", models.ErrNotFound, name)
	}
	return dim, Distance(dist), err
}

func (s *SQLiteStore) EnsureCollection(ctx context.Context, name string, dimension int, distance Distance) error {
	dim, _, err := s.collectionInfo(ctx, name)
	if err == nil {
		return checkDimension(name, dim, dimension)
	}
	if !errors.Is(err, models.ErrNotFound) {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vector_collections (name, dimension, distance) VALUES (?, ?, ?)`,
		name, dimension, string(distance))
	return err
}

func (s *SQLiteStore) Upsert(ctx context.Context, collection string, points []Point) error {
	dim, _, err := s.collectionInfo(ctx, collection)
	if err != nil {
		return err
	}
	for _, p := range points {
		if len(p.Vector) != dim {
			return checkDimension(collection, dim, len(p.Vector))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO vector_points (collection, id, vector, payload) VALUES (?, ?, ?, ?)
		 ON CONFLICT(collection, id) DO UPDATE SET vector = excluded.vector, payload = excluded.payload`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("encode payload of %s: %w", p.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, collection, p.ID, utils.Float32sToBytes(p.Vector), string(payload)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// filterClause renders filter as json_extract equality tests. Keys are bound
// as JSON paths, never spliced into the SQL text.
func filterClause(filter Filter) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	args := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		b.WriteString(" AND json_extract(payload, ?) = ?")
		args = append(args, "$."+k, filter[k])
	}
	return b.String(), args
}

func (s *SQLiteStore) Search(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]Hit, error) {
	dim, dist, err := s.collectionInfo(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(vector) != dim {
		return nil, checkDimension(collection, dim, len(vector))
	}
	if topK <= 0 {
		return nil, nil
	}

	where, fargs := filterClause(filter)
	args := append([]any{collection}, fargs...)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vector, payload FROM vector_points WHERE collection = ?`+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var id, payloadJSON string
		var blob []byte
		if err := rows.Scan(&id, &blob, &payloadJSON); err != nil {
			return nil, err
		}
		vec, err := utils.BytesToFloat32s(blob)
		if err != nil {
			return nil, fmt.Errorf("point %s: %w", id, err)
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, fmt.Errorf("point %s payload: %w", id, err)
		}
		hits = append(hits, Hit{ID: id, Score: score(dist, vector, vec), Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM vector_points WHERE collection = ? AND id IN (`+placeholders+`)`, args...)
	return err
}

func (s *SQLiteStore) DeleteByFilter(ctx context.Context, collection string, filter Filter) error {
	where, fargs := filterClause(filter)
	args := append([]any{collection}, fargs...)
	_, err := s.db.ExecContext(ctx, `DELETE FROM vector_points WHERE collection = ?`+where, args...)
	return err
}

func (s *SQLiteStore) Count(ctx context.Context, collection string) (int, error) {
	if _, _, err := s.collectionInfo(ctx, collection); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vector_points WHERE collection = ?`, collection).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
