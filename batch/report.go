package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ReportEntry represents one job in the report file.
type ReportEntry struct {
	Input              string `json:"input"`
	Output             string `json:"output"`
	Source             string `json:"source,omitempty"`
	Backup             string `json:"backup,omitempty"`
	Width              int    `json:"width"`
	Height             int    `json:"height"`
	Removed            int    `json:"removed"`
	AlreadyTransparent int    `json:"already_transparent"`
	Success            bool   `json:"success"`
	Error              string `json:"error,omitempty"`
	DurationMS         int64  `json:"duration_ms"`
}

// Report is the JSON document written by WriteReport.
type Report struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Processed   int           `json:"processed"`
	Failed      int           `json:"failed"`
	Entries     []ReportEntry `json:"entries"`
}

// NewReport converts results into a Report.
func NewReport(results []Result) Report {
	ok, failed := Summary(results)
	entries := make([]ReportEntry, len(results))
	for i, r := range results {
		entries[i] = ReportEntry{
			Input:              r.Input,
			Output:             r.Output,
			Source:             r.Source,
			Backup:             r.Backup,
			Width:              r.Stats.Width,
			Height:             r.Stats.Height,
			Removed:            r.Stats.Removed,
			AlreadyTransparent: r.Stats.AlreadyTransparent,
			Success:            r.Success,
			Error:              r.Error,
			DurationMS:         r.Duration.Milliseconds(),
		}
	}
	return Report{
		GeneratedAt: time.Now().UTC(),
		Processed:   ok,
		Failed:      failed,
		Entries:     entries,
	}
}

// WriteReport writes the JSON report of results to path.
func WriteReport(path string, results []Result) error {
	data, err := json.MarshalIndent(NewReport(results), "", "  ")
	if err != nil {
		return fmt.Errorf("batch: encode report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("batch: create dir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("batch: write report %s: %w", path, err)
	}
	return nil
}
