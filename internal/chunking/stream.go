// Package chunking turns a document into semantically coherent chunks: it
// concatenates pages into one stream, splits the stream into units, clusters
// adjacent units by embedding similarity, enforces chunk size limits, and
// attaches page and provenance metadata.
package chunking

import (
	"strings"

	"github.com/hyperjump/kirinuki/internal/models"
)

// PageSeparator is inserted between consecutive pages. Its bytes belong to the
// preceding page's interval.
const PageSeparator = "\n\n"

// BuildStream concatenates pages in order and records the half-open byte
// interval each page occupies. Intervals are contiguous and cover the whole
// stream, so every byte belongs to exactly one page.
func BuildStream(pages []models.Page) *models.Stream {
	var b strings.Builder
	size := 0
	for _, p := range pages {
		size += len(p.Text) + len(PageSeparator)
	}
	b.Grow(size)

	spans := make([]models.PageSpan, 0, len(pages))
	for i, p := range pages {
		start := b.Len()
		b.WriteString(p.Text)
		if i < len(pages)-1 {
			b.WriteString(PageSeparator)
		}
		spans = append(spans, models.PageSpan{PageNumber: p.PageNumber, Start: start, End: b.Len()})
	}
	return &models.Stream{Text: b.String(), PageMap: spans}
}
