package models

import (
	"errors"
	"testing"
)

func TestDocument_Validate(t *testing.T) {
	tests := []struct {
		name    string
		doc     *Document
		wantErr bool
	}{
		{"nil", nil, true},
		{"valid", &Document{DocID: "d1", Filename: "a.pdf", Pages: []Page{{PageNumber: 1, Text: "x"}}}, false},
		{"missing doc_id", &Document{Filename: "a.pdf", Pages: []Page{{PageNumber: 1}}}, true},
		{"missing filename", &Document{DocID: "d1", Pages: []Page{{PageNumber: 1}}}, true},
		{"no pages", &Document{DocID: "d1", Filename: "a.pdf"}, true},
		{"negative page", &Document{DocID: "d1", Filename: "a.pdf", Pages: []Page{{PageNumber: -1}}}, true},
		{"pages out of order", &Document{DocID: "d1", Filename: "a.pdf", Pages: []Page{{PageNumber: 2}, {PageNumber: 1}}}, true},
		{"duplicate page", &Document{DocID: "d1", Filename: "a.pdf", Pages: []Page{{PageNumber: 1}, {PageNumber: 1}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.doc.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrMalformedInput) {
				t.Errorf("expected ErrMalformedInput, got %v", err)
			}
		})
	}
}

func TestStream_PagesFor(t *testing.T) {
	s := &Stream{
		Text: "aaaa\n\nbbbb\n\ncccc",
		PageMap: []PageSpan{
			{PageNumber: 1, Start: 0, End: 6},
			{PageNumber: 2, Start: 6, End: 12},
			{PageNumber: 3, Start: 12, End: 16},
		},
	}
	tests := []struct {
		start, end int
		want       []int
	}{
		{0, 4, []int{1}},
		{2, 8, []int{1, 2}},
		{6, 10, []int{2}},
		{0, 16, []int{1, 2, 3}},
		{12, 16, []int{3}},
	}
	for _, tt := range tests {
		got := s.PagesFor(tt.start, tt.end)
		if len(got) != len(tt.want) {
			t.Errorf("PagesFor(%d,%d) = %v, want %v", tt.start, tt.end, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("PagesFor(%d,%d) = %v, want %v", tt.start, tt.end, got, tt.want)
			}
		}
	}
}

func TestChunk_PayloadIsFlat(t *testing.T) {
	c := &Chunk{ChunkID: "id", DocID: "d", Text: "t", Strategy: StrategySlidingWindow,
		PageNumbers: []int{1, 2}, CharRange: [2]int{3, 9}, DocumentName: "a.pdf"}
	p := c.Payload("scope")
	for _, key := range RequiredPayloadFields {
		if _, ok := p[key]; !ok {
			t.Errorf("payload missing %q", key)
		}
	}
	for k, v := range p {
		if _, nested := v.(map[string]any); nested {
			t.Errorf("payload field %q is nested", k)
		}
	}
	if p["source"] != nil {
		t.Errorf("absent source should be null, got %v", p["source"])
	}
	if p["char_start"] != 3 || p["char_end"] != 9 {
		t.Errorf("char range not flattened: %v %v", p["char_start"], p["char_end"])
	}
}
