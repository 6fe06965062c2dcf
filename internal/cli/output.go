// Package cli provides output helpers for the pawsort command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/pawsort/internal/grouping"
	"github.com/hyperjump/pawsort/internal/models"
)

// OutputFormat is the format of command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text or json)", s)
}

// WriteGroups writes a grouping to w in the given format.
func WriteGroups(w io.Writer, result *grouping.Result, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, result)
	}
	fmt.Fprintf(w, "\nGrouped %d photos into %d buckets\n", result.Total(), len(result.Buckets))
	for _, b := range result.Buckets {
		name := b.Key
		if name == models.UnknownKey {
			name = "unknown"
		}
		fmt.Fprintf(w, "\n%s (%d)\n", name, len(b.Items))
		for _, item := range b.Items {
			writeItem(w, item)
		}
	}
	return nil
}

func writeItem(w io.Writer, item models.PhotoItem) {
	a := item.Assignment
	if a.BestScore == models.NoScore {
		fmt.Fprintf(w, "  %8s  %s\n", "-", item.SourceRef)
		return
	}
	line := fmt.Sprintf("  %8.4f  %s", a.BestScore, item.SourceRef)
	// unknown photos still show their nearest class
	if a.IsUnknown() && len(a.Top) > 0 {
		line += fmt.Sprintf("  (nearest: %s %.4f)", a.Top[0].ClassID, a.Top[0].Score)
	}
	fmt.Fprintln(w, line)
}

// WriteExports writes export history to w.
func WriteExports(w io.Writer, recs []*models.ExportRecord, format OutputFormat) error {
	if format == OutputJSON {
		if recs == nil {
			recs = []*models.ExportRecord{}
		}
		return writeJSON(w, recs)
	}
	if len(recs) == 0 {
		fmt.Fprintln(w, "No exports yet.")
		return nil
	}
	for _, r := range recs {
		fmt.Fprintf(w, "%s  %s  %-5s  %5d photos  %s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.ID, r.Target, r.Total, r.Root)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
