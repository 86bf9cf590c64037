// Package cli formats records, outcomes, sessions and search results for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/MLenaBleile/sandy/internal/agent"
	"github.com/MLenaBleile/sandy/internal/corpus"
	"github.com/MLenaBleile/sandy/internal/models"
	"github.com/MLenaBleile/sandy/internal/search"
	"github.com/MLenaBleile/sandy/internal/storage"
	"github.com/MLenaBleile/sandy/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const rule = "---------------------------------------------------------"

// ParseOutputFormat accepts "text" or "json" (case-insensitive); empty means text.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// MakeResult is the result of running one input through the pipeline.
type MakeResult struct {
	Input   string               `json:"input"`
	Record  *models.StoredRecord `json:"record,omitempty"`
	Outcome models.Outcome       `json:"outcome"`
	Error   string               `json:"error,omitempty"`
}

// WriteMakeResults writes pipeline results to w in the given format.
func WriteMakeResults(w io.Writer, results []MakeResult, format OutputFormat) error {
	if format == OutputJSON {
		if results == nil {
			results = []MakeResult{}
		}
		return writeJSON(w, results)
	}
	made := 0
	for _, r := range results {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "Input: %s\n", r.Input)
		switch {
		case r.Error != "":
			fmt.Fprintf(w, "Error: %s\n", r.Error)
		case r.Record != nil:
			made++
			writeRecordText(w, r.Record)
		default:
			fmt.Fprintf(w, "Outcome: %s at %s (%s)\n", r.Outcome.Outcome, r.Outcome.Stage, r.Outcome.Detail)
		}
	}
	fmt.Fprintf(w, "\n%d of %d inputs made a sandwich\n", made, len(results))
	return nil
}

// WriteRecord writes one record to w in the given format.
func WriteRecord(w io.Writer, rec *models.StoredRecord, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, rec)
	}
	writeRecordText(w, rec)
	return nil
}

func writeRecordText(w io.Writer, rec *models.StoredRecord) {
	a, v := rec.Assembled, rec.Validation
	fmt.Fprintf(w, "%s [%s]\n", a.Name, a.StructureType)
	fmt.Fprintf(w, "ID: %s\n", rec.ID)
	fmt.Fprintf(w, "Bread: %s | %s\n", a.AnchorA, a.AnchorB)
	fmt.Fprintf(w, "Filling: %s\n", a.Filling)
	fmt.Fprintf(w, "Validity: %.2f (%s)\n", v.Overall, v.Recommendation)
	if a.Description != "" {
		fmt.Fprintf(w, "\n%s\n", TruncateWords(a.Description, 60))
	}
	if rec.Source.URL != "" {
		fmt.Fprintf(w, "Source: %s\n", rec.Source.URL)
	}
}

// WriteSearchResults writes search results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, response *search.Response, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	writeSearchResultsText(w, response)
	return nil
}

func writeSearchResultsText(w io.Writer, response *search.Response) {
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", response.Total, response.QueryTime)
	if response.Total == 0 && response.Suggestion != "" {
		fmt.Fprintf(w, "Did you mean: %s\n\n", response.Suggestion)
	}
	for _, hit := range response.Results {
		writeOneResult(w, hit)
	}
}

func writeOneResult(w io.Writer, hit *search.Hit) {
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Rank: %d | Score: %.4f (Keyword: %.4f, Semantic: %.4f)\n",
		hit.Rank, hit.Score, hit.KeywordScore, hit.SemanticScore)
	rec := hit.Record
	fmt.Fprintf(w, "%s [%s]  %s | %s | %s\n", rec.Assembled.Name, rec.Assembled.StructureType,
		rec.Assembled.AnchorA, rec.Assembled.Filling, rec.Assembled.AnchorB)
	fmt.Fprintf(w, "ID: %s\n", rec.ID)
	if hit.Snippet != "" {
		fmt.Fprintf(w, "\n%s\n", hit.Snippet)
	}
	fmt.Fprintln(w)
}

// WriteSession writes an agent session summary to w in the given format.
func WriteSession(w io.Writer, s *agent.Session, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	for _, msg := range s.Messages {
		fmt.Fprintln(w, msg)
	}
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Session %s: %d sandwiches from %d foraging attempts in %s (%s)\n",
		s.ID, s.SandwichesMade, s.ForagingAttempts, s.EndedAt.Sub(s.StartedAt).Round(time.Millisecond), s.StopReason)
	for _, rec := range s.Records {
		fmt.Fprintf(w, "  %s  %s (%.2f)\n", rec.ID, rec.Assembled.Name, rec.Validation.Overall)
	}
	return nil
}

// Stats summarizes the stored corpus.
type Stats struct {
	Corpus         corpus.Stats             `json:"corpus"`
	StoredRecords  int64                    `json:"stored_records"`
	IndexedRecords uint64                   `json:"indexed_records"`
	Disk           storage.Footprint        `json:"disk"`
	RecentOutcomes []models.OutcomeLogEntry `json:"recent_outcomes"`
}

// WriteStats writes corpus statistics to w in the given format.
func WriteStats(w io.Writer, st Stats, format OutputFormat) error {
	if format == OutputJSON {
		if st.RecentOutcomes == nil {
			st.RecentOutcomes = []models.OutcomeLogEntry{}
		}
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "Records:      %d stored, %d indexed\n", st.StoredRecords, st.IndexedRecords)
	fmt.Fprintf(w, "Ingredients:  %d\n", st.Corpus.Ingredients)
	fmt.Fprintf(w, "Dimensions:   %d\n", st.Corpus.Dimensions)
	fmt.Fprintf(w, "Disk usage:   %s\n", FormatBytes(st.Disk.Total))
	if len(st.Corpus.TypeFrequencies) > 0 {
		fmt.Fprintln(w, "Structure types:")
		types := make([]string, 0, len(st.Corpus.TypeFrequencies))
		for t := range st.Corpus.TypeFrequencies {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Fprintf(w, "  %-20s %d\n", t, st.Corpus.TypeFrequencies[t])
		}
	}
	if len(st.RecentOutcomes) > 0 {
		fmt.Fprintln(w, "Recent outcomes:")
		for _, e := range st.RecentOutcomes {
			fmt.Fprintf(w, "  %s  %-14s %-14s %s\n", e.Timestamp.Format("2006-01-02 15:04:05"),
				e.Stage, e.Outcome, utils.Truncate(e.Detail, 60))
		}
	}
	return nil
}

// FormatBytes renders n bytes with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
