package models

import (
	"fmt"
	"strings"
)

// RetrievalQuery is a retrieval request against one scope.
type RetrievalQuery struct {
	Query   string `json:"query"`
	ScopeID string `json:"scope_id"`
	TopK    int    `json:"top_k,omitempty"`
}

// Validate ensures the query has a non-blank text and scope, and clamps TopK
// into [1, maxTopK], using defaultTopK when unset.
func (q *RetrievalQuery) Validate(defaultTopK, maxTopK int) error {
	if strings.TrimSpace(q.Query) == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrMalformedInput)
	}
	if strings.TrimSpace(q.ScopeID) == "" {
		return fmt.Errorf("%w: scope_id cannot be empty", ErrMalformedInput)
	}
	if q.TopK <= 0 {
		q.TopK = defaultTopK
	}
	if maxTopK > 0 && q.TopK > maxTopK {
		q.TopK = maxTopK
	}
	return nil
}
