package services

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Lllllllleong/pdfrasterflow/internal/export"
	"github.com/Lllllllleong/pdfrasterflow/internal/ledger"
	"github.com/Lllllllleong/pdfrasterflow/internal/models"
	"github.com/Lllllllleong/pdfrasterflow/internal/notify"
)

const DefaultReportSubject = "Daily Status Report"

type ReportingConfig struct {
	Subject string
	// RunLogPath is attached to the notification when the file exists.
	RunLogPath string
}

type ReportingFunction struct {
	Deps
	config   ReportingConfig
	notifier notify.Notifier
}

// NewReporting builds the reporting stage. notifier may be nil, in which case the
// export is written but nothing is sent.
func NewReporting(deps Deps, config ReportingConfig, notifier notify.Notifier) (*ReportingFunction, error) {
	if deps.Ledger == nil || deps.Layout == nil {
		return nil, fmt.Errorf("reporting needs a ledger and a layout")
	}
	if config.Subject == "" {
		config.Subject = DefaultReportSubject
	}
	deps.Log.Info().Bool("notify", notifier != nil).Msg("Reporting stage initialized.")
	return &ReportingFunction{Deps: deps, config: config, notifier: notifier}, nil
}

func (f *ReportingFunction) Process(ctx context.Context, day time.Time) (*models.ReportResult, error) {
	date := models.Day(day)
	res := &models.ReportResult{}
	logCtx := f.Log.With().Str("reportDate", date).Logger()

	recs, err := f.Ledger.QueryDocuments(ctx, ledger.DocumentFilter{UpdatedDay: date})
	if err != nil {
		return res, fmt.Errorf("failed to query documents for %s: %w", date, err)
	}
	res.Summary = Summarize(date, recs)

	if err := os.MkdirAll(f.Layout.Exports, 0o755); err != nil {
		return res, fmt.Errorf("failed to create exports folder: %w", err)
	}
	res.ExportPath = export.ReportPath(f.Layout.Exports, date)
	if err := export.WriteDocuments(res.ExportPath, recs); err != nil {
		return res, fmt.Errorf("failed to write report export: %w", err)
	}
	logCtx.Info().Str("exportPath", res.ExportPath).Int("rows", len(recs)).Msg("Report export written.")

	if f.notifier == nil {
		logCtx.Info().Msg("No notifier configured. SKIPPING notification.")
		return res, nil
	}

	attachments := []string{res.ExportPath}
	if f.config.RunLogPath != "" {
		if ok, _ := fileExists(f.config.RunLogPath); ok {
			attachments = append(attachments, f.config.RunLogPath)
		} else {
			logCtx.Warn().Str("runLog", f.config.RunLogPath).Msg("Run log not found. Sending without it.")
		}
	}

	msg := notify.Message{
		Subject:     f.config.Subject,
		Body:        res.Summary.Body(),
		Attachments: attachments,
	}
	if err := f.notifier.Send(ctx, msg); err != nil {
		logCtx.Error().Err(err).Msg("Failed to send report notification.")
		return res, fmt.Errorf("failed to send report: %w", err)
	}
	res.Notified = true
	logCtx.Info().Msg("Report notification sent.")
	return res, nil
}

// Summarize counts recs by status for date.
func Summarize(date string, recs []models.DocumentRecord) models.Summary {
	s := models.Summary{Date: date, Total: len(recs)}
	for _, r := range recs {
		switch r.Status {
		case models.StatusDone:
			s.Processed++
		case models.StatusCompleted:
			s.Completed++
		case models.StatusFailed:
			s.Failed++
		case models.StatusDeleted:
			s.Deleted++
		}
	}
	return s
}

func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}
