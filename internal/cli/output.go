// Package cli provides output formatting for the Kura command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/kura/internal/vfs"
	"github.com/hyperjump/kura/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, results []vfs.SearchResult, elapsed time.Duration, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"results":       results,
			"total":         len(results),
			"query_time_ms": elapsed.Milliseconds(),
		})
	default:
		writeSearchResultsText(w, results, elapsed)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, results []vfs.SearchResult, elapsed time.Duration) {
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", len(results), elapsed.Milliseconds())
	for rank, result := range results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", rank+1, result.Score)
		fmt.Fprintf(w, "Path: %s\n", result.Entry.Path)
		if result.Entry.Text != "" {
			fmt.Fprintf(w, "\n%s\n", utils.Truncate(result.Entry.Text, 200))
		}
		fmt.Fprintln(w)
	}
}

// WriteListing writes a folder listing to w in the given format.
func WriteListing(w io.Writer, folder *vfs.FSFolder, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(folder)
	default:
		writeListingText(w, folder, 0)
		return nil
	}
}

func writeListingText(w io.Writer, folder *vfs.FSFolder, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, sub := range folder.Folders {
		fmt.Fprintf(w, "%s%s/\n", indent, sub.Name)
		writeListingText(w, sub, depth+1)
	}
	for _, entry := range folder.Entries {
		marker := " "
		if entry.HasSource {
			marker = "*"
		}
		fmt.Fprintf(w, "%s%s %s  (%d nodes)\n", indent, marker, entry.Name, entry.NodeCount)
	}
}

// WriteEntry writes a single entry to w in the given format.
func WriteEntry(w io.Writer, entry vfs.FSEntry, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entry)
	default:
		fmt.Fprintf(w, "Path: %s\n", entry.Path)
		fmt.Fprintf(w, "Kind: %s\n", entry.Kind)
		if entry.ResourceID != "" {
			fmt.Fprintf(w, "Resource: %s\n", entry.ResourceID)
		}
		if entry.NodeCount > 0 {
			fmt.Fprintf(w, "Nodes: %d\n", entry.NodeCount)
		}
		if entry.HasSource {
			fmt.Fprintln(w, "Source: attached")
		}
		if !entry.LastWritten.IsZero() {
			fmt.Fprintf(w, "Written: %s\n", entry.LastWritten.Format(time.RFC3339))
		}
		if entry.Text != "" {
			fmt.Fprintf(w, "\n%s\n", utils.Truncate(entry.Text, 400))
		}
		return nil
	}
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
