package chunking

import (
	"fmt"
	"unicode/utf8"

	"github.com/hyperjump/kirinuki/internal/models"
)

// UnitMode selects what counts as an indivisible unit.
type UnitMode string

const (
	UnitSentence  UnitMode = "sentence"
	UnitParagraph UnitMode = "paragraph"
)

// Splitter divides a stream into units in a single left-to-right pass.
// Offsets are taken during the walk, never recovered by searching the text,
// so repeated sentences keep their own positions.
type Splitter struct {
	mode        UnitMode
	maxUnits    int
	maxUnitSize int
}

// NewSplitter returns a splitter. Units longer than maxUnitSize bytes are
// broken at the last whitespace before the limit; maxUnits caps the output.
func NewSplitter(mode UnitMode, maxUnits, maxUnitSize int) (*Splitter, error) {
	switch mode {
	case UnitSentence, UnitParagraph:
	default:
		return nil, fmt.Errorf("unknown unit mode %q", mode)
	}
	if maxUnits <= 0 || maxUnitSize <= 0 {
		return nil, fmt.Errorf("maxUnits and maxUnitSize must be positive")
	}
	return &Splitter{mode: mode, maxUnits: maxUnits, maxUnitSize: maxUnitSize}, nil
}

// Split returns the units of text in order. truncated is true when the unit
// cap stopped the walk early; text after the last unit is then not covered.
func (s *Splitter) Split(text string) (units []models.Unit, truncated bool) {
	full := false
	emit := func(start, end int) {
		for start < end && isSpace(text[start]) {
			start++
		}
		for end > start && isSpace(text[end-1]) {
			end--
		}
		for start < end && !full {
			cut := end
			if cut-start > s.maxUnitSize {
				cut = s.breakPoint(text, start)
			}
			ue := cut
			for ue > start && isSpace(text[ue-1]) {
				ue--
			}
			units = append(units, models.Unit{Text: text[start:ue], Start: start, End: ue})
			if len(units) == s.maxUnits {
				full = true
				truncated = cut < end || hasContent(text[end:])
				return
			}
			start = cut
			for start < end && isSpace(text[start]) {
				start++
			}
		}
	}

	start := 0
	for i := 0; i < len(text) && !full; i++ {
		c := text[i]
		switch {
		case s.mode == UnitSentence && isTerminator(c):
			j := i + 1
			for j < len(text) && isCloser(text[j]) {
				j++
			}
			if j == len(text) || isSpace(text[j]) {
				emit(start, j)
				start = j
				i = j - 1
			}
		case c == '\n':
			j := i + 1
			for j < len(text) && (text[j] == ' ' || text[j] == '\t' || text[j] == '\r') {
				j++
			}
			if j < len(text) && text[j] == '\n' {
				emit(start, i)
				start = j + 1
				i = j
			}
		}
	}
	if !full {
		emit(start, len(text))
	}
	return units, truncated
}

// breakPoint picks where to cut an oversized unit starting at start: the last
// whitespace within maxUnitSize bytes, or the last rune boundary if there is none.
func (s *Splitter) breakPoint(text string, start int) int {
	limit := start + s.maxUnitSize
	for i := limit; i > start; i-- {
		if isSpace(text[i]) {
			return i
		}
	}
	cut := limit
	for cut > start && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == start {
		// A single rune wider than the limit; take it whole.
		_, size := utf8.DecodeRuneInString(text[start:])
		return start + size
	}
	return cut
}

func isTerminator(c byte) bool {
	return c == '.' || c == '!' || c == '?'
}

func isCloser(c byte) bool {
	switch c {
	case '.', '!', '?', '"', '\'', ')', ']':
		return true
	}
	return false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r' || c == '\f' || c == '\v'
}

func hasContent(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isSpace(s[i]) {
			return true
		}
	}
	return false
}
