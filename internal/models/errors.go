package models

import "errors"

var (
	// ErrMalformedInput marks a document or query that fails validation. Not retried.
	ErrMalformedInput = errors.New("malformed input")
	// ErrProviderUnavailable marks an embedding, reranking, or storage provider
	// that kept failing after bounded retries.
	ErrProviderUnavailable = errors.New("upstream provider unavailable")
	// ErrDimensionMismatch marks a vector whose length differs from the collection's.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrMissingPayloadField marks a point missing a required payload field.
	ErrMissingPayloadField = errors.New("missing payload field")
	// ErrIndexBuildDegraded marks a document whose sparse index could not be built.
	ErrIndexBuildDegraded = errors.New("sparse index build degraded")
	// ErrNotFound is returned when a document or collection does not exist.
	ErrNotFound = errors.New("not found")
)

// Warning codes.
const (
	WarnMaxUnitsExceeded  = "max_units_exceeded"
	WarnMaxChunksExceeded = "max_chunks_exceeded"
	WarnSparseDegraded    = "sparse_index_degraded"
	WarnEmptyDocument     = "empty_document"
)

// Warning is a non-fatal condition attached to a result, e.g. a safety limit
// that truncated output.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Limit   int    `json:"limit,omitempty"`
	Actual  int    `json:"actual,omitempty"`
}
