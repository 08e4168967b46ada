package chunking

import (
	"context"
	"fmt"

	"github.com/hyperjump/kirinuki/internal/config"
	"github.com/hyperjump/kirinuki/internal/models"
	"go.uber.org/zap"
)

// Embedder embeds unit texts; the embedding batcher satisfies it.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Chunker runs stream building, splitting, clustering, size enforcement, and
// metadata propagation for one document at a time. It is safe for concurrent use.
type Chunker struct {
	splitter *Splitter
	strategy Strategy
	enforcer *SizeEnforcer
	logger   *zap.Logger
}

// ChunkerOption configures a Chunker.
type ChunkerOption func(*Chunker)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) ChunkerOption {
	return func(c *Chunker) { c.logger = l }
}

// WithStrategy overrides the clustering strategy built from config.
func WithStrategy(s Strategy) ChunkerOption {
	return func(c *Chunker) { c.strategy = s }
}

// NewChunker builds a chunker from cfg.
func NewChunker(cfg config.ChunkingConfig, opts ...ChunkerOption) (*Chunker, error) {
	splitter, err := NewSplitter(UnitMode(cfg.UnitMode), cfg.MaxUnits, cfg.MaxChunkSize)
	if err != nil {
		return nil, err
	}
	strategy, err := NewStrategy(cfg.Strategy, cfg.SimilarityThreshold, cfg.BreakpointPercentile)
	if err != nil {
		return nil, err
	}
	c := &Chunker{
		splitter: splitter,
		strategy: strategy,
		enforcer: &SizeEnforcer{
			MinSize:   cfg.MinChunkSize,
			MaxSize:   cfg.MaxChunkSize,
			MaxChunks: cfg.MaxChunksPerDocument,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

// StrategyName returns the name recorded on produced chunks.
func (c *Chunker) StrategyName() string { return c.strategy.Name() }

// Chunk splits doc into chunks. Unit embeddings come from emb; a failure there
// fails the whole document. Chunk embeddings are not computed here.
func (c *Chunker) Chunk(ctx context.Context, doc *models.Document, emb Embedder) (*models.ChunkSet, error) {
	set := &models.ChunkSet{
		DocID:         doc.DocID,
		DocumentName:  doc.Filename,
		ChunkStrategy: c.strategy.Name(),
		Chunks:        []*models.Chunk{},
	}

	stream := BuildStream(doc.Pages)
	units, truncated := c.splitter.Split(stream.Text)
	if truncated {
		set.Warnings = append(set.Warnings, models.Warning{
			Code:    models.WarnMaxUnitsExceeded,
			Message: fmt.Sprintf("unit limit %d reached; trailing text was not chunked", c.splitter.maxUnits),
			Limit:   c.splitter.maxUnits,
		})
		c.logger.Warn("unit limit reached", zap.String("doc_id", doc.DocID), zap.Int("limit", c.splitter.maxUnits))
	}
	if len(units) == 0 {
		set.Warnings = append(set.Warnings, models.Warning{
			Code:    models.WarnEmptyDocument,
			Message: "document has no text",
		})
		return set, nil
	}

	var clusters [][]int
	if len(units) == 1 {
		clusters = [][]int{{0}}
	} else {
		texts := make([]string, len(units))
		for i, u := range units {
			texts[i] = u.Text
		}
		vecs, err := emb.EmbedTexts(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed units of %s: %w", doc.DocID, err)
		}
		clusters, err = c.strategy.Cluster(units, vecs)
		if err != nil {
			return nil, fmt.Errorf("cluster units of %s: %w", doc.DocID, err)
		}
	}

	clusters, warnings := c.enforcer.Enforce(units, clusters)
	for _, w := range warnings {
		c.logger.Warn(w.Message, zap.String("doc_id", doc.DocID), zap.String("code", w.Code))
	}
	set.Warnings = append(set.Warnings, warnings...)
	set.Chunks = Propagate(doc, stream, units, clusters, c.strategy.Name())

	c.logger.Debug("chunked document",
		zap.String("doc_id", doc.DocID),
		zap.Int("units", len(units)),
		zap.Int("chunks", len(set.Chunks)),
		zap.String("strategy", c.strategy.Name()))
	return set, nil
}
