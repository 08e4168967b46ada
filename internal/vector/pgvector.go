package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/hyperjump/kirinuki/internal/models"
)

// PGVectorStore keeps points in PostgreSQL using the pgvector extension.
// All collections share one table keyed by (collection, id).
type PGVectorStore struct {
	pool *pgxpool.Pool
}

// NewPGVectorStore connects to dsn and creates the extension and tables.
func NewPGVectorStore(ctx context.Context, dsn string) (*PGVectorStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	schema := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS kirinuki_collections (
			name TEXT PRIMARY KEY,
			dimension INTEGER NOT NULL,
			distance TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS kirinuki_points (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			embedding vector NOT NULL,
			payload JSONB NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
		`CREATE INDEX IF NOT EXISTS kirinuki_points_payload_idx ON kirinuki_points USING GIN (payload)`,
	}
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
	}
	return &PGVectorStore{pool: pool}, nil
}

func (s *PGVectorStore) collectionInfo(ctx context.Context, name string) (int, Distance, error) {
	var dim int
	var dist string
	err := s.pool.QueryRow(ctx,
		`SELECT dimension, distance FROM kirinuki_collections WHERE name = $1`, name,
	).Scan(&dim, &dist)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", fmt.Errorf("%w: collection %s", models.ErrNotFound, name)
	}
	return dim, Distance(dist), err
}

func (s *PGVectorStore) EnsureCollection(ctx context.Context, name string, dimension int, distance Distance) error {
	dim, _, err := s.collectionInfo(ctx, name)
	if err == nil {
		return checkDimension(name, dim, dimension)
	}
	if !errors.Is(err, models.ErrNotFound) {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO kirinuki_collections (name, dimension, distance) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO NOTHING`,
		name, dimension, string(distance))
	return err
}

func (s *PGVectorStore) Upsert(ctx context.Context, collection string, points []Point) error {
	dim, _, err := s.collectionInfo(ctx, collection)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, p := range points {
		if len(p.Vector) != dim {
			return checkDimension(collection, dim, len(p.Vector))
		}
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("encode payload of %s: %w", p.ID, err)
		}
		batch.Queue(
			`INSERT INTO kirinuki_points (collection, id, embedding, payload) VALUES ($1, $2, $3, $4::jsonb)
			 ON CONFLICT (collection, id) DO UPDATE SET embedding = EXCLUDED.embedding, payload = EXCLUDED.payload`,
			collection, p.ID, pgvector.NewVector(p.Vector), string(payload))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// scoreExpr returns a higher-is-better score expression over $1.
func scoreExpr(d Distance) string {
	switch d {
	case Dot:
		return `-(embedding <#> $1)`
	case Euclidean:
		return `-(embedding <-> $1)`
	default:
		return `1 - (embedding <=> $1)`
	}
}

func (s *PGVectorStore) Search(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]Hit, error) {
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

	args := []any{pgvector.NewVector(vector), collection, topK}
	where := `collection = $2`
	if len(filter) > 0 {
		f, err := json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("%w: filter: %v", models.ErrMalformedInput, err)
		}
		where += ` AND payload @> $4::jsonb`
		args = append(args, string(f))
	}
	expr := scoreExpr(dist)
	rows, err := s.pool.Query(ctx,
		`SELECT id, `+expr+` AS score, payload FROM kirinuki_points
		 WHERE `+where+` ORDER BY score DESC, id ASC LIMIT $3`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var raw []byte
		if err := rows.Scan(&h.ID, &h.Score, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &h.Payload); err != nil {
			return nil, fmt.Errorf("point %s payload: %w", h.ID, err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *PGVectorStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM kirinuki_points WHERE collection = $1 AND id = ANY($2)`, collection, ids)
	return err
}

func (s *PGVectorStore) DeleteByFilter(ctx context.Context, collection string, filter Filter) error {
	if len(filter) == 0 {
		_, err := s.pool.Exec(ctx, `DELETE FROM kirinuki_points WHERE collection = $1`, collection)
		return err
	}
	f, err := json.Marshal(filter)
	if err != nil {
		return fmt.Errorf("%w: filter: %v", models.ErrMalformedInput, err)
	}
	_, err = s.pool.Exec(ctx,
		`DELETE FROM kirinuki_points WHERE collection = $1 AND payload @> $2::jsonb`, collection, string(f))
	return err
}

func (s *PGVectorStore) Count(ctx context.Context, collection string) (int, error) {
	if _, _, err := s.collectionInfo(ctx, collection); err != nil {
		return 0, err
	}
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM kirinuki_points WHERE collection = $1`, collection).Scan(&n)
	return n, err
}

// Close releases the connection pool.
func (s *PGVectorStore) Close() error {
	s.pool.Close()
	return nil
}
