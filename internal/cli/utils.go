// Package cli provides CLI output helpers for basho.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/basho/internal/models"
	"github.com/hyperjump/basho/internal/pipeline"
	"github.com/hyperjump/basho/internal/search"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat maps a flag value to an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (supported: text, json)", s)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResult writes one search outcome. A nil result means no scene matched.
func WriteSearchResult(w io.Writer, res *models.SearchResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]*models.SearchResult{"result": res})
	}
	if res == nil {
		fmt.Fprintln(w, "No matching scene.")
		return nil
	}
	m := res.Metadata
	fmt.Fprintf(w, "Scene: %s\n", m.SceneID)
	if m.Title != "" {
		fmt.Fprintf(w, "Title: %s\n", m.Title)
	}
	if m.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", Truncate(m.Description, 200))
	}
	fmt.Fprintf(w, "Location: %.6f, %.6f\n", m.Latitude, m.Longitude)
	fmt.Fprintf(w, "Distance: %.4f\n", res.Distance)
	return nil
}

// WriteLocations writes the distinct locations of a video run in order.
func WriteLocations(w io.Writer, records []models.LocationRecord, format OutputFormat) error {
	if format == OutputJSON {
		if records == nil {
			records = []models.LocationRecord{}
		}
		return writeJSON(w, map[string][]models.LocationRecord{"results": records})
	}
	fmt.Fprintf(w, "\nFound %d locations\n\n", len(records))
	for i, r := range records {
		fmt.Fprintf(w, "%3d. frame %-6d %-20s %.6f, %.6f  (distance %.4f)\n",
			i+1, r.FrameIndex, r.SceneID, r.Latitude, r.Longitude, r.Distance)
		if r.Title != "" {
			fmt.Fprintf(w, "     %s\n", r.Title)
		}
	}
	return nil
}

// WriteBuildStats writes the summary of an index build.
func WriteBuildStats(w io.Writer, stats *pipeline.BuildStats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	fmt.Fprintf(w, "Indexed %d of %d images (%d skipped) across %d scenes in %s\n",
		stats.Indexed, stats.Entries, stats.Skipped, stats.Scenes, stats.Duration.Round(time.Millisecond))
	return nil
}

// WriteStatus writes the engine status.
func WriteStatus(w io.Writer, st search.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "Descriptors:  %d\n", st.Descriptors)
	fmt.Fprintf(w, "Scenes:       %d\n", st.Scenes)
	fmt.Fprintf(w, "Dimensions:   %d\n", st.Dimensions)
	fmt.Fprintf(w, "Index:        %s\n", st.IndexType)
	fmt.Fprintf(w, "Store:        %s\n", st.StoreBackend)
	fmt.Fprintf(w, "Verification: %t\n", st.Verifying)
	if st.BuiltAt != nil {
		fmt.Fprintf(w, "Built at:     %s\n", st.BuiltAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
