package chunking

import (
	"fmt"

	"github.com/hyperjump/kirinuki/internal/models"
)

// SizeEnforcer reshapes clusters so chunks respect size limits without ever
// cutting inside a unit. Sizes are measured as the byte span from the first
// unit's start to the last unit's end.
type SizeEnforcer struct {
	MinSize   int
	MaxSize   int
	MaxChunks int
}

// Enforce merges undersized clusters into their following neighbour (the
// last one into its predecessor), splits oversized clusters greedily at unit
// boundaries, and truncates to MaxChunks with a warning.
func (e *SizeEnforcer) Enforce(units []models.Unit, clusters [][]int) ([][]int, []models.Warning) {
	var out [][]int
	for _, c := range e.mergeSmall(units, clusters) {
		out = append(out, e.split(units, c)...)
	}

	var warnings []models.Warning
	if e.MaxChunks > 0 && len(out) > e.MaxChunks {
		warnings = append(warnings, models.Warning{
			Code:    models.WarnMaxChunksExceeded,
			Message: fmt.Sprintf("document produced %d chunks; kept the first %d", len(out), e.MaxChunks),
			Limit:   e.MaxChunks,
			Actual:  len(out),
		})
		out = out[:e.MaxChunks]
	}
	return out, warnings
}

func (e *SizeEnforcer) mergeSmall(units []models.Unit, clusters [][]int) [][]int {
	var out [][]int
	var pending []int
	for _, c := range clusters {
		if len(c) == 0 {
			continue
		}
		cur := c
		if len(pending) > 0 {
			cur = append(append([]int(nil), pending...), c...)
			pending = nil
		}
		if span(units, cur) < e.MinSize {
			pending = cur
			continue
		}
		out = append(out, cur)
	}
	if len(pending) > 0 {
		if len(out) == 0 {
			return [][]int{pending}
		}
		last := len(out) - 1
		out[last] = append(append([]int(nil), out[last]...), pending...)
	}
	return out
}

func (e *SizeEnforcer) split(units []models.Unit, c []int) [][]int {
	if e.MaxSize <= 0 || span(units, c) <= e.MaxSize {
		return [][]int{c}
	}
	var pieces [][]int
	var cur []int
	for _, idx := range c {
		if len(cur) > 0 && units[idx].End-units[cur[0]].Start > e.MaxSize {
			pieces = append(pieces, cur)
			cur = nil
		}
		cur = append(cur, idx)
	}
	return append(pieces, cur)
}

func span(units []models.Unit, c []int) int {
	return units[c[len(c)-1]].End - units[c[0]].Start
}
