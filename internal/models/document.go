// Package models defines core data structures for documents, chunks, and retrieval results.
package models

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Page is one page of cleaned text extracted upstream.
type Page struct {
	PageNumber int            `json:"page_number" validate:"gte=0"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Document is the input artifact produced by the extraction stage.
// Provenance fields are optional; when absent they propagate to chunks as null.
type Document struct {
	DocID    string `json:"doc_id" validate:"required"`
	Filename string `json:"filename" validate:"required"`
	Pages    []Page `json:"pages" validate:"required,min=1,dive"`

	Source             *string    `json:"source,omitempty"`
	FileType           *string    `json:"file_type,omitempty"`
	FileSize           *int64     `json:"file_size,omitempty"`
	FileHash           *string    `json:"file_hash,omitempty"`
	ExtractionVersion  *string    `json:"extraction_version,omitempty"`
	IngestionTimestamp *time.Time `json:"ingestion_timestamp,omitempty"`
}

// Validate checks required fields and that page numbers strictly increase.
// All failures wrap ErrMalformedInput.
func (d *Document) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil document", ErrMalformedInput)
	}
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	for i := 1; i < len(d.Pages); i++ {
		if d.Pages[i].PageNumber <= d.Pages[i-1].PageNumber {
			return fmt.Errorf("%w: page_number %d follows %d", ErrMalformedInput,
				d.Pages[i].PageNumber, d.Pages[i-1].PageNumber)
		}
	}
	return nil
}

// PageSpan is the half-open byte interval a page occupies in the stream.
type PageSpan struct {
	PageNumber int `json:"page_number"`
	Start      int `json:"start_char"`
	End        int `json:"end_char"`
}

// Stream is the concatenated text of a document plus its page map.
type Stream struct {
	Text    string
	PageMap []PageSpan
}

// PagesFor returns the page numbers whose intervals intersect [start, end), in order.
func (s *Stream) PagesFor(start, end int) []int {
	var pages []int
	for _, p := range s.PageMap {
		if p.Start >= end {
			break
		}
		if p.Start < p.End && start < p.End {
			pages = append(pages, p.PageNumber)
		}
	}
	return pages
}

// Unit is an indivisible span of the stream (a sentence or a paragraph).
type Unit struct {
	Text  string
	Start int
	End   int
}
