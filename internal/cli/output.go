// Package cli provides CLI output formatting for Kioku.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

// OutputFormat is the format for CLI output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const separator = "─────────────────────────────────────────────────────────"

// WriteBundle writes a context bundle to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteBundle(w io.Writer, bundle *models.ContextBundle, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, bundle)
	}
	if !bundle.ContextUsed {
		fmt.Fprintln(w, "\nNo context retrieved.")
		return nil
	}
	fmt.Fprintf(w, "\nAssembled %d chunks (%d tokens)\n\n", len(bundle.Items), bundle.TotalTokens)
	for i, item := range bundle.Items {
		fmt.Fprintln(w, separator)
		fmt.Fprintf(w, "[%d] %s #%d | Score: %.4f", i+1, item.DatasetName, item.Ordinal, item.Score)
		if item.Section != "" {
			fmt.Fprintf(w, " | Section: %s", item.Section)
		}
		if item.Page > 0 {
			fmt.Fprintf(w, " | Page: %d", item.Page)
		}
		fmt.Fprintf(w, "\n\n%s\n\n", utils.Truncate(item.Content, 400))
	}
	return nil
}

// WriteDatasets writes a dataset listing to w.
func WriteDatasets(w io.Writer, datasets []*models.Dataset, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, datasets)
	}
	if len(datasets) == 0 {
		fmt.Fprintln(w, "No datasets.")
		return nil
	}
	for _, ds := range datasets {
		fmt.Fprintf(w, "%s  %-24s %-10s %5d chunks  %s/%s",
			ds.ID, ds.Name, ds.Status, ds.ChunkCount, ds.Backend, ds.EmbeddingModel)
		if ds.Status == models.StatusFailed && ds.ErrorMessage != "" {
			fmt.Fprintf(w, "  error: %s", utils.Truncate(ds.ErrorMessage, 80))
		}
		fmt.Fprintln(w)
	}
	return nil
}

// WriteLinks writes a consumer's link listing to w.
func WriteLinks(w io.Writer, links []*models.ConsumerLink, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, links)
	}
	if len(links) == 0 {
		fmt.Fprintln(w, "No links.")
		return nil
	}
	for _, link := range links {
		state := "enabled"
		if !link.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(w, "%s  %-8s weight=%.2f access=%s used=%d\n",
			link.DatasetID, state, link.Weight, link.AccessLevel, link.UseCount)
	}
	return nil
}

// WriteKeywordResults writes keyword search hits to w.
func WriteKeywordResults(w io.Writer, results []*keyword.Result, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, results)
	}
	if len(results) == 0 {
		fmt.Fprintln(w, "No matches.")
		return nil
	}
	for i, res := range results {
		fmt.Fprintf(w, "[%d] %s #%d | Score: %.4f\n", i+1, res.DatasetID, res.Ordinal, res.Score)
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
