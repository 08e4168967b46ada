// Package sparse keeps one in-memory keyword index per document and scores
// queries against the indices of a chosen set of documents.
package sparse

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/hyperjump/kirinuki/internal/models"
)

// indexedChunk is the document shape stored in bleve.
type indexedChunk struct {
	ChunkID string `json:"chunk_id"`
	DocID   string `json:"doc_id"`
	Text    string `json:"text"`
}

// IndexFactory creates an empty index for one document.
type IndexFactory func() (bleve.Index, error)

// newChunkMapping indexes text with the standard analyzer (lowercase +
// tokenize, no stemming) so query terms match words as written.
func newChunkMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	textField.Store = false
	docMapping.AddFieldMappingsAt("text", textField)

	idField := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("chunk_id", idField)
	docMapping.AddFieldMappingsAt("doc_id", idField)

	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// MemIndexFactory builds memory-only bleve indices.
func MemIndexFactory() (bleve.Index, error) {
	return bleve.NewMemOnly(newChunkMapping())
}

// buildIndex indexes chunks in a single batch.
func buildIndex(ctx context.Context, factory IndexFactory, chunks []*models.Chunk) (bleve.Index, error) {
	idx, err := factory()
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	batch := idx.NewBatch()
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			_ = idx.Close()
			return nil, err
		}
		if err := batch.Index(c.ChunkID, indexedChunk{ChunkID: c.ChunkID, DocID: c.DocID, Text: c.Text}); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("index chunk %s: %w", c.ChunkID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return idx, nil
}

// searchIndex runs a match query over the text field.
func searchIndex(ctx context.Context, idx bleve.Index, query string, limit int) ([]models.Candidate, error) {
	q := bleve.NewMatchQuery(query)
	q.SetField("text")
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	out := make([]models.Candidate, len(res.Hits))
	for i, hit := range res.Hits {
		out[i] = models.Candidate{ChunkID: hit.ID, Score: hit.Score, Type: models.RetrievalSparse}
	}
	return out, nil
}
