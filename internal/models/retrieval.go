package models

// RetrievalType records which retriever(s) produced a candidate.
type RetrievalType string

const (
	RetrievalDense  RetrievalType = "dense"
	RetrievalSparse RetrievalType = "sparse"
	RetrievalHybrid RetrievalType = "hybrid"
)

// Candidate is a scored chunk reference flowing through retrieval.
type Candidate struct {
	ChunkID string        `json:"chunk_id"`
	Score   float64       `json:"score"`
	Type    RetrievalType `json:"retrieval_type"`
}

// Stage is a step of the query lifecycle.
type Stage string

const (
	StageReceived        Stage = "received"
	StageDenseSearching  Stage = "dense_searching"
	StageSparseSearching Stage = "sparse_searching"
	StageMerging         Stage = "merging"
	StageReranking       Stage = "reranking"
	StageCompleted       Stage = "completed"
	StageDegraded        Stage = "degraded"
)

// RetrievalResult is one ranked chunk returned to the caller.
type RetrievalResult struct {
	ChunkID       string         `json:"chunk_id"`
	Text          string         `json:"text"`
	Score         float64        `json:"score"`
	RetrievalType RetrievalType  `json:"retrieval_type"`
	Reranked      bool           `json:"reranked"`
	Metadata      map[string]any `json:"metadata"`
}

// RetrievalResponse is the result of a query. Degraded lists the stages that
// failed and were skipped; an empty list means every stage ran.
type RetrievalResponse struct {
	Query     string             `json:"query"`
	ScopeID   string             `json:"scope_id"`
	Results   []*RetrievalResult `json:"results"`
	Degraded  []Stage            `json:"degraded,omitempty"`
	Warnings  []string           `json:"warnings,omitempty"`
	QueryTime int64              `json:"query_time_ms"`
}

// IsDegraded reports whether any stage was skipped.
func (r *RetrievalResponse) IsDegraded() bool {
	return len(r.Degraded) > 0
}

// Ingest outcomes.
const (
	StatusIngested = "ingested"
	StatusDegraded = "degraded"
	StatusSkipped  = "skipped"
	StatusFailed   = "failed"
)

// IngestStatus is the per-document outcome of an ingestion.
type IngestStatus struct {
	DocID    string    `json:"doc_id"`
	Status   string    `json:"status"`
	Chunks   int       `json:"chunks"`
	Error    string    `json:"error,omitempty"`
	Warnings []Warning `json:"warnings,omitempty"`
}
