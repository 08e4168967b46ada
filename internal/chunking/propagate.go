package chunking

import (
	"github.com/hyperjump/kirinuki/internal/ident"
	"github.com/hyperjump/kirinuki/internal/models"
)

// Propagate materializes clusters into chunks. A chunk's char_range runs from
// its first unit's start to its last unit's end, its pages are those whose
// interval intersects that range, and provenance is copied from doc as is.
func Propagate(doc *models.Document, stream *models.Stream, units []models.Unit, clusters [][]int, strategy string) []*models.Chunk {
	chunks := make([]*models.Chunk, 0, len(clusters))
	for pos, c := range clusters {
		start := units[c[0]].Start
		end := units[c[len(c)-1]].End
		chunks = append(chunks, &models.Chunk{
			ChunkID:     ident.PointID(doc.DocID, pos),
			DocID:       doc.DocID,
			Text:        stream.Text[start:end],
			Strategy:    strategy,
			PageNumbers: stream.PagesFor(start, end),
			CharRange:   [2]int{start, end},
			Position:    pos,
			ChunkSize:   end - start,
			ChunkIndex:  pos,
			TotalChunks: len(clusters),

			DocumentName:       doc.Filename,
			ExtractionVersion:  doc.ExtractionVersion,
			IngestionTimestamp: doc.IngestionTimestamp,
			Source:             doc.Source,
			FileType:           doc.FileType,
			FileSize:           doc.FileSize,
			FileHash:           doc.FileHash,
		})
	}
	return chunks
}
