package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kirinuki/internal/ident"
	"github.com/hyperjump/kirinuki/internal/models"
)

func newCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()
	c, err := NewSQLiteCatalog(filepath.Join(t.TempDir(), "catalog", "kirinuki.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func chunkSet(docID string, texts ...string) *models.ChunkSet {
	set := &models.ChunkSet{DocID: docID, DocumentName: docID + ".pdf", ChunkStrategy: models.StrategySlidingWindow}
	offset := 0
	for i, text := range texts {
		set.Chunks = append(set.Chunks, &models.Chunk{
			ChunkID:     ident.PointID(docID, i),
			DocID:       docID,
			Text:        text,
			Strategy:    models.StrategySlidingWindow,
			PageNumbers: []int{1},
			CharRange:   [2]int{offset, offset + len(text)},
			Position:    i,
			ChunkSize:   len(text),
			ChunkIndex:  i,
			TotalChunks: len(texts),
		})
		offset += len(text) + 1
	}
	return set
}

func TestSQLiteCatalog_SaveAndGet(t *testing.T) {
	c := newCatalog(t)
	ctx := context.Background()

	set := chunkSet("doc1", "alpha", "beta", "gamma")
	set.Warnings = []models.Warning{{Code: models.WarnMaxChunksExceeded, Limit: 3, Actual: 4}}
	if err := c.SaveChunkSet(ctx, "scope-a", "hash1", set); err != nil {
		t.Fatal(err)
	}

	rec, err := c.GetDocument(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ScopeID != "scope-a" || rec.ChunkCount != 3 || rec.ArtifactHash != "hash1" {
		t.Errorf("got %+v", rec)
	}
	if len(rec.Warnings) != 1 || rec.Warnings[0].Code != models.WarnMaxChunksExceeded {
		t.Errorf("warnings = %+v", rec.Warnings)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	chunks, err := c.GetChunks(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Position != i || ch.ChunkID != set.Chunks[i].ChunkID || ch.Text != set.Chunks[i].Text {
			t.Errorf("chunk %d = %+v", i, ch)
		}
	}
}

func TestSQLiteCatalog_ReplaceShrinks(t *testing.T) {
	c := newCatalog(t)
	ctx := context.Background()

	_ = c.SaveChunkSet(ctx, "s", "h1", chunkSet("doc1", "a", "b", "c"))
	if err := c.SaveChunkSet(ctx, "s", "h2", chunkSet("doc1", "a2")); err != nil {
		t.Fatal(err)
	}
	chunks, _ := c.GetChunks(ctx, "doc1")
	if len(chunks) != 1 || chunks[0].Text != "a2" {
		t.Errorf("chunks after replace = %+v", chunks)
	}
	rec, _ := c.GetDocument(ctx, "doc1")
	if rec.ChunkCount != 1 || rec.ArtifactHash != "h2" {
		t.Errorf("record after replace = %+v", rec)
	}
	if n, _ := c.CountChunks(ctx); n != 1 {
		t.Errorf("CountChunks = %d, want 1", n)
	}
}

func TestSQLiteCatalog_ListAndDelete(t *testing.T) {
	c := newCatalog(t)
	ctx := context.Background()

	_ = c.SaveChunkSet(ctx, "s1", "", chunkSet("a", "x"))
	_ = c.SaveChunkSet(ctx, "s1", "", chunkSet("b", "y"))
	_ = c.SaveChunkSet(ctx, "s2", "", chunkSet("c", "z"))

	tests := []struct {
		scope string
		want  int
	}{
		{"s1", 2},
		{"s2", 1},
		{"", 3},
		{"none", 0},
	}
	for _, tt := range tests {
		list, err := c.ListDocuments(ctx, tt.scope, 0, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != tt.want {
			t.Errorf("ListDocuments(%q) = %d docs, want %d", tt.scope, len(list), tt.want)
		}
	}
	if list, _ := c.ListDocuments(ctx, "", 1, 1); len(list) != 1 {
		t.Errorf("paged list = %d docs, want 1", len(list))
	}

	if err := c.DeleteDocument(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetDocument(ctx, "a"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("GetDocument after delete: %v", err)
	}
	if chunks, _ := c.GetChunks(ctx, "a"); len(chunks) != 0 {
		t.Errorf("chunks survived delete: %d", len(chunks))
	}
	if err := c.DeleteDocument(ctx, "a"); err != nil {
		t.Errorf("second delete: %v", err)
	}
	if n, _ := c.CountDocuments(ctx); n != 2 {
		t.Errorf("CountDocuments = %d, want 2", n)
	}
}

func TestSQLiteCatalog_ReservePoints(t *testing.T) {
	c := newCatalog(t)
	ctx := context.Background()

	steps := []struct {
		name  string
		count int
		save  int
		want  int
	}{
		{"first attempt", 8, -1, 0},
		{"retry after failed save", 3, 3, 8},
		{"after successful save", 5, -1, 3},
		{"shrinking retry keeps mark", 1, -1, 5},
	}
	for _, st := range steps {
		prev, err := c.ReservePoints(ctx, "doc1", st.count)
		if err != nil {
			t.Fatal(err)
		}
		if prev != st.want {
			t.Errorf("%s: ReservePoints = %d, want %d", st.name, prev, st.want)
		}
		if st.save >= 0 {
			texts := make([]string, st.save)
			for i := range texts {
				texts[i] = "t"
			}
			if err := c.SaveChunkSet(ctx, "s", "", chunkSet("doc1", texts...)); err != nil {
				t.Fatal(err)
			}
		}
	}

	if err := c.DeleteDocument(ctx, "doc1"); err != nil {
		t.Fatal(err)
	}
	if prev, _ := c.ReservePoints(ctx, "doc1", 0); prev != 0 {
		t.Errorf("mark after delete = %d, want 0", prev)
	}
}

func TestSQLiteCatalog_SetWarnings(t *testing.T) {
	c := newCatalog(t)
	ctx := context.Background()

	set := chunkSet("doc1", "alpha")
	set.Warnings = []models.Warning{{Code: models.WarnSparseDegraded}}
	if err := c.SaveChunkSet(ctx, "s", "", set); err != nil {
		t.Fatal(err)
	}
	if err := c.SetWarnings(ctx, "doc1", nil); err != nil {
		t.Fatal(err)
	}
	rec, err := c.GetDocument(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Warnings) != 0 {
		t.Errorf("warnings = %+v, want none", rec.Warnings)
	}
	if err := c.SetWarnings(ctx, "missing", nil); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("SetWarnings(missing) = %v, want ErrNotFound", err)
	}
}
