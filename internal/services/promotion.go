package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/Lllllllleong/pdfrasterflow/internal/layout"
	"github.com/Lllllllleong/pdfrasterflow/internal/ledger"
	"github.com/Lllllllleong/pdfrasterflow/internal/models"
)

type PromotionConfig struct {
	PurgeStaging bool
}

type PromotionFunction struct {
	Deps
	config PromotionConfig
}

func NewPromotion(deps Deps, config PromotionConfig) (*PromotionFunction, error) {
	if deps.Ledger == nil || deps.Layout == nil {
		return nil, fmt.Errorf("promotion needs a ledger and a layout")
	}
	deps.Log.Info().Bool("purgeStaging", config.PurgeStaging).Msg("Promotion stage initialized.")
	return &PromotionFunction{Deps: deps, config: config}, nil
}

// Process moves completed documents from the working day folder into the archive
// and marks them done.
func (f *PromotionFunction) Process(ctx context.Context, day time.Time) (*models.PromotionResult, error) {
	res := &models.PromotionResult{Day: models.Day(day)}
	workDir := f.Layout.WorkingDay(day)
	archiveDir := f.Layout.ArchiveDay(day)
	logCtx := f.Log.With().Str("workingDir", workDir).Str("archiveDir", archiveDir).Logger()

	items, err := os.ReadDir(workDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logCtx.Info().Msg("No working folder for this day. Nothing to promote.")
	case err != nil:
		return res, fmt.Errorf("failed to read working folder: %w", err)
	}

	if len(items) > 0 {
		records, err := f.dayRecords(ctx, res.Day)
		if err != nil {
			return res, fmt.Errorf("failed to load ledger records for the day: %w", err)
		}
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			docLog := logCtx.With().Str("entry", item.Name()).Logger()
			f.promoteOne(ctx, docLog, res, records[item.Name()], item.Name(), workDir, archiveDir)
		}
	}

	if err := f.reconcile(ctx, logCtx, res, archiveDir); err != nil {
		logCtx.Error().Err(err).Msg("Reconciliation of the archive folder failed.")
	}

	if f.config.PurgeStaging {
		res.Cleaned += clearDir(logCtx, f.Layout.IncomingDay(day))
		res.Cleaned += clearDir(logCtx, workDir)
	}
	return res, nil
}

func (f *PromotionFunction) promoteOne(ctx context.Context, logCtx zerolog.Logger, res *models.PromotionResult, rec *models.DocumentRecord, entry, workDir, archiveDir string) {
	if rec != nil && rec.Status != models.StatusCompleted {
		logCtx.Info().Str("status", string(rec.Status)).Msg("SKIPPING: document is not completed. Leaving it in place.")
		res.Held++
		return
	}

	src := filepath.Join(workDir, entry)
	if ok, err := layout.Exists(src); err != nil || !ok {
		logCtx.Warn().Err(err).Msg("Working entry disappeared before promotion.")
		return
	}
	dst := filepath.Join(archiveDir, entry)
	if taken, err := layout.Exists(dst); err != nil || taken {
		logCtx.Error().Err(err).Str("target", dst).Msg("Archive target already exists. Not overwriting.")
		res.Errors++
		return
	}
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		logCtx.Error().Err(err).Msg("Failed to create archive day folder.")
		res.Errors++
		return
	}
	if err := os.Rename(src, dst); err != nil {
		logCtx.Error().Err(err).Msg("Failed to move entry into the archive.")
		res.Errors++
		return
	}

	if rec == nil {
		logCtx.Warn().Msg("INCONSISTENT: promoted an entry with no ledger record.")
		res.Inconsistent++
		res.Promoted++
		return
	}
	if err := f.Ledger.TransitionRecord(ctx, rec.ID, models.StatusDone, f.now(), ""); err != nil {
		logCtx.Error().Err(err).Msg("Entry moved but the ledger was not updated. The next run will reconcile it.")
		res.Errors++
		return
	}
	res.Promoted++
	logCtx.Info().Str("archivePath", dst).Msg("Document promoted.")
}

// reconcile marks archived documents that are still completed as done. This heals a
// run that stopped between the rename and the ledger update.
func (f *PromotionFunction) reconcile(ctx context.Context, logCtx zerolog.Logger, res *models.PromotionResult, archiveDir string) error {
	items, err := os.ReadDir(archiveDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	records, err := f.dayRecords(ctx, res.Day)
	if err != nil {
		return err
	}
	for _, item := range items {
		rec := records[item.Name()]
		if rec == nil || rec.Status != models.StatusCompleted {
			continue
		}
		if err := f.Ledger.TransitionRecord(ctx, rec.ID, models.StatusDone, f.now(), ""); err != nil {
			logCtx.Error().Err(err).Str("identifier", rec.Identifier).Msg("Failed to reconcile archived document.")
			continue
		}
		res.Reconciled++
		logCtx.Info().Str("identifier", rec.Identifier).Msg("Reconciled archived document to done.")
	}
	return nil
}

// dayRecords indexes the records seen on day by the folder name Conversion gives them,
// the identifier without its extension.
func (f *PromotionFunction) dayRecords(ctx context.Context, day string) (map[string]*models.DocumentRecord, error) {
	recs, err := f.Ledger.QueryDocuments(ctx, ledger.DocumentFilter{SeenDay: day})
	if err != nil {
		return nil, err
	}
	byBase := make(map[string]*models.DocumentRecord, len(recs))
	for i := range recs {
		base := documentBase(recs[i].Identifier)
		if _, taken := byBase[base]; !taken {
			byBase[base] = &recs[i]
		}
	}
	return byBase, nil
}

// clearDir removes every child of dir and returns how many were removed.
func clearDir(logCtx zerolog.Logger, dir string) int {
	items, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logCtx.Warn().Err(err).Str("dir", dir).Msg("Failed to read staging folder for cleanup.")
		}
		return 0
	}
	removed := 0
	for _, item := range items {
		if err := os.RemoveAll(filepath.Join(dir, item.Name())); err != nil {
			logCtx.Warn().Err(err).Str("path", item.Name()).Msg("Failed to clean staging entry.")
			continue
		}
		removed++
	}
	logCtx.Info().Str("dir", dir).Int("removed", removed).Msg("Staging folder cleaned.")
	return removed
}
