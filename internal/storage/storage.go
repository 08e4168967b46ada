// Package storage persists the chunk catalog: which documents were ingested
// into which scope, and the chunk sets they produced.
package storage

import (
	"context"
	"time"

	"github.com/hyperjump/kirinuki/internal/models"
)

// DocumentRecord describes one ingested document.
type DocumentRecord struct {
	DocID         string           `json:"doc_id"`
	ScopeID       string           `json:"scope_id"`
	DocumentName  string           `json:"document_name"`
	ChunkStrategy string           `json:"chunk_strategy"`
	ArtifactHash  string           `json:"artifact_hash,omitempty"`
	ChunkCount    int              `json:"chunk_count"`
	Warnings      []models.Warning `json:"warnings,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Catalog defines document and chunk set persistence.
type Catalog interface {
	// SaveChunkSet replaces the document's record and chunks in one transaction.
	SaveChunkSet(ctx context.Context, scopeID, artifactHash string, set *models.ChunkSet) error
	// GetDocument returns ErrNotFound for unknown ids.
	GetDocument(ctx context.Context, docID string) (*DocumentRecord, error)
	// ListDocuments lists a scope's documents, newest first; an empty scope lists all.
	ListDocuments(ctx context.Context, scopeID string, offset, limit int) ([]*DocumentRecord, error)
	GetChunks(ctx context.Context, docID string) ([]*models.Chunk, error)
	DeleteDocument(ctx context.Context, docID string) error
	// ReservePoints records that positional points [0, count) may exist for
	// docID before they are written, and returns the previous upper bound.
	// The bound drops back to the stored chunk count only on SaveChunkSet.
	ReservePoints(ctx context.Context, docID string, count int) (int, error)
	// SetWarnings replaces the warnings on an existing document record.
	SetWarnings(ctx context.Context, docID string, warnings []models.Warning) error

	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}
