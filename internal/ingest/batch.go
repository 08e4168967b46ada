package ingest

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kirinuki/internal/models"
)

// Submit ingests one document and reports the outcome as a status instead of
// an error.
func (p *Pipeline) Submit(ctx context.Context, scopeID string, doc *models.Document) models.IngestStatus {
	docID := ""
	if doc != nil {
		docID = doc.DocID
	}
	set, err := p.Ingest(ctx, scopeID, doc)
	if err != nil {
		p.logger.Warn("document ingestion failed", zap.String("doc_id", docID), zap.Error(err))
	}
	return StatusOf(docID, set, err)
}

// IngestBatch ingests docs concurrently and returns one status per document,
// in input order. One document failing never stops the others.
func (p *Pipeline) IngestBatch(ctx context.Context, scopeID string, docs []*models.Document) []models.IngestStatus {
	statuses := make([]models.IngestStatus, len(docs))
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, doc := range docs {
		g.Go(func() error {
			statuses[i] = p.Submit(ctx, scopeID, doc)
			return nil
		})
	}
	_ = g.Wait()
	return statuses
}
