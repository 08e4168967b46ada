// Package cli provides output helpers for the kirinuki command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kirinuki/internal/models"
	"github.com/hyperjump/kirinuki/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const rule = "─────────────────────────────────────────────────────────"

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteRetrieval writes a retrieval response to w in the given format.
func WriteRetrieval(w io.Writer, resp *models.RetrievalResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms (scope %s)\n", len(resp.Results), resp.QueryTime, resp.ScopeID)
	if resp.IsDegraded() {
		stages := make([]string, len(resp.Degraded))
		for i, s := range resp.Degraded {
			stages[i] = string(s)
		}
		fmt.Fprintf(w, "Degraded: %s\n", strings.Join(stages, ", "))
	}
	fmt.Fprintln(w)
	for i, r := range resp.Results {
		fmt.Fprintln(w, rule)
		reranked := ""
		if r.Reranked {
			reranked = ", reranked"
		}
		fmt.Fprintf(w, "#%d | Score: %.4f (%s%s)\n", i+1, r.Score, r.RetrievalType, reranked)
		if name, ok := r.Metadata["document_name"].(string); ok && name != "" {
			fmt.Fprintf(w, "Document: %s", name)
			if pages := r.Metadata["page_numbers"]; pages != nil {
				fmt.Fprintf(w, " pages %v", pages)
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "Chunk: %s\n\n%s\n\n", r.ChunkID, utils.Truncate(utils.SingleLine(r.Text), 300))
	}
	return nil
}

// WriteChunkSet writes the chunks of one document.
func WriteChunkSet(w io.Writer, set *models.ChunkSet, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, set)
	}
	fmt.Fprintf(w, "\n%s: %d chunks (%s)\n", set.DocID, len(set.Chunks), set.ChunkStrategy)
	for _, warn := range set.Warnings {
		fmt.Fprintf(w, "warning [%s]: %s\n", warn.Code, warn.Message)
	}
	fmt.Fprintln(w)
	for _, c := range set.Chunks {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "[%d] bytes %d-%d | size %d | pages %v\n", c.Position, c.CharRange[0], c.CharRange[1], c.ChunkSize, c.PageNumbers)
		fmt.Fprintf(w, "%s\n\n", TruncateWords(c.Text, 40))
	}
	return nil
}

// WriteStatuses writes per-document ingestion outcomes.
func WriteStatuses(w io.Writer, statuses []models.IngestStatus, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, statuses)
	}
	for _, st := range statuses {
		line := fmt.Sprintf("%-8s %s", st.Status, st.DocID)
		switch {
		case st.Error != "":
			line += ": " + st.Error
		case st.Status != models.StatusFailed:
			line += fmt.Sprintf(" (%d chunks)", st.Chunks)
		}
		fmt.Fprintln(w, line)
		for _, warn := range st.Warnings {
			fmt.Fprintf(w, "         warning [%s]: %s\n", warn.Code, warn.Message)
		}
	}
	return nil
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
