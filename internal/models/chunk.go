package models

import "time"

// Chunk strategies recorded on every chunk.
const (
	StrategySlidingWindow = "sliding_window"
	StrategyPercentile    = "percentile"
)

// Chunk is one retrievable, embedded span of a document.
type Chunk struct {
	ChunkID     string    `json:"chunk_id"`
	DocID       string    `json:"doc_id"`
	Text        string    `json:"text"`
	Strategy    string    `json:"strategy"`
	PageNumbers []int     `json:"page_numbers"`
	CharRange   [2]int    `json:"char_range"`
	Position    int       `json:"position"`
	ChunkSize   int       `json:"chunk_size"`
	ChunkIndex  int       `json:"chunk_index"`
	TotalChunks int       `json:"total_chunks"`
	Embedding   []float32 `json:"-"`

	DocumentName       string     `json:"document_name"`
	ExtractionVersion  *string    `json:"extraction_version"`
	IngestionTimestamp *time.Time `json:"ingestion_timestamp"`
	Source             *string    `json:"source"`
	FileType           *string    `json:"file_type"`
	FileSize           *int64     `json:"file_size"`
	FileHash           *string    `json:"file_hash"`
}

// ChunkSet is the ordered output of chunking one document.
type ChunkSet struct {
	DocID         string    `json:"doc_id"`
	DocumentName  string    `json:"document_name"`
	ChunkStrategy string    `json:"chunk_strategy"`
	Chunks        []*Chunk  `json:"chunks"`
	Warnings      []Warning `json:"warnings,omitempty"`
}

// Payload flattens the chunk into the filterable map stored next to its vector.
// char_range is split into char_start and char_end to keep the payload flat.
func (c *Chunk) Payload(scopeID string) map[string]any {
	p := map[string]any{
		"chunk_id":      c.ChunkID,
		"doc_id":        c.DocID,
		"scope_id":      scopeID,
		"text":          c.Text,
		"strategy":      c.Strategy,
		"page_numbers":  c.PageNumbers,
		"char_start":    c.CharRange[0],
		"char_end":      c.CharRange[1],
		"position":      c.Position,
		"chunk_size":    c.ChunkSize,
		"chunk_index":   c.ChunkIndex,
		"total_chunks":  c.TotalChunks,
		"document_name": c.DocumentName,
	}
	putOptional(p, "extraction_version", c.ExtractionVersion)
	putOptional(p, "source", c.Source)
	putOptional(p, "file_type", c.FileType)
	putOptional(p, "file_hash", c.FileHash)
	if c.FileSize != nil {
		p["file_size"] = *c.FileSize
	} else {
		p["file_size"] = nil
	}
	if c.IngestionTimestamp != nil {
		p["ingestion_timestamp"] = c.IngestionTimestamp.UTC().Format(time.RFC3339Nano)
	} else {
		p["ingestion_timestamp"] = nil
	}
	return p
}

func putOptional(p map[string]any, key string, v *string) {
	if v != nil {
		p[key] = *v
		return
	}
	p[key] = nil
}

// RequiredPayloadFields must be present on every stored point.
var RequiredPayloadFields = []string{
	"chunk_id", "doc_id", "scope_id", "text", "strategy", "page_numbers",
	"char_start", "char_end", "position", "chunk_size", "document_name",
}
