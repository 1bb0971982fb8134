package models

import "fmt"

// These structs are the outcome of one stage invocation. Each stage entry point
// logs them at the end of a run.

// IngestionResult is the output of the ingestion stage.
type IngestionResult struct {
	Day     string `json:"day"`
	Listed  int    `json:"listed"`
	Fetched int    `json:"fetched"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
}

// ConversionResult is the output of the conversion stage.
// PageImages counts images rendered in this run, PagesRecorded the page records
// inserted, which includes images an earlier run left on disk unrecorded.
type ConversionResult struct {
	Day           string `json:"day"`
	Converted     int    `json:"converted"`
	Reused        int    `json:"reused"`
	Skipped       int    `json:"skipped"`
	Failed        int    `json:"failed"`
	PageImages    int    `json:"pageImages"`
	PagesRecorded int    `json:"pagesRecorded"`
}

// PromotionResult is the output of the promotion stage.
type PromotionResult struct {
	Day          string `json:"day"`
	Promoted     int    `json:"promoted"`
	Reconciled   int    `json:"reconciled"`
	Held         int    `json:"held"`
	Inconsistent int    `json:"inconsistent"`
	Errors       int    `json:"errors"`
	Cleaned      int    `json:"cleaned"`
}

// RetentionResult is the output of the retention stage.
type RetentionResult struct {
	CutoffDay    string   `json:"cutoffDay"`
	Candidates   int      `json:"candidates"`
	Relocated    int      `json:"relocated"`
	Inconsistent int      `json:"inconsistent"`
	Deleted      int64    `json:"deleted"`
	DryRun       []string `json:"dryRun,omitempty"`
}

// ReportResult is the output of the reporting stage.
type ReportResult struct {
	Summary    Summary `json:"summary"`
	ExportPath string  `json:"exportPath"`
	Notified   bool    `json:"notified"`
}

// Summary holds the per-status counts for one report date.
// Processed counts documents that reached done.
type Summary struct {
	Date      string `json:"date"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Deleted   int    `json:"deleted"`
}

// Body renders the summary as the plain-text report body.
func (s Summary) Body() string {
	return fmt.Sprintf("Date: %s\nTotal files: %d\nProcessed files: %d\nCompleted files: %d\nFailed files: %d\nDeleted files: %d\n",
		s.Date, s.Total, s.Processed, s.Completed, s.Failed, s.Deleted)
}
