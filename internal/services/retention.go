package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Lllllllleong/pdfrasterflow/internal/layout"
	"github.com/Lllllllleong/pdfrasterflow/internal/models"
)

type RetentionConfig struct {
	MinAgeDays int
	DryRun     bool
}

type RetentionFunction struct {
	Deps
	config RetentionConfig
}

func NewRetention(deps Deps, config RetentionConfig) (*RetentionFunction, error) {
	if deps.Ledger == nil || deps.Layout == nil {
		return nil, fmt.Errorf("retention needs a ledger and a layout")
	}
	if config.MinAgeDays < 0 {
		return nil, fmt.Errorf("retention min age must not be negative, got %d", config.MinAgeDays)
	}
	deps.Log.Info().Int("minAgeDays", config.MinAgeDays).Bool("dryRun", config.DryRun).Msg("Retention stage initialized.")
	return &RetentionFunction{Deps: deps, config: config}, nil
}

// Process moves archived documents older than the cutoff into the purge folder and
// marks them deleted. Only relocated documents change status.
func (f *RetentionFunction) Process(ctx context.Context, day time.Time) (*models.RetentionResult, error) {
	cutoff := day.AddDate(0, 0, -f.config.MinAgeDays)
	res := &models.RetentionResult{CutoffDay: models.Day(cutoff)}
	logCtx := f.Log.With().Str("cutoffDay", res.CutoffDay).Logger()

	candidates, err := f.Ledger.RetentionCandidates(ctx, res.CutoffDay)
	if err != nil {
		return res, fmt.Errorf("failed to list retention candidates: %w", err)
	}
	res.Candidates = len(candidates)
	if len(candidates) == 0 {
		logCtx.Info().Msg("No documents are due for retention.")
		return res, nil
	}

	if f.config.DryRun {
		for _, c := range candidates {
			res.DryRun = append(res.DryRun, fmt.Sprintf("%s (%s)", c.Identifier, c.ArchiveDay))
			logCtx.Info().Str("identifier", c.Identifier).Str("archiveDay", c.ArchiveDay).Msg("DRY RUN: would relocate document.")
		}
		return res, nil
	}

	var relocated []int64
	var runErr error
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		docLog := logCtx.With().Str("identifier", c.Identifier).Str("archiveDay", c.ArchiveDay).Logger()

		moved, err := f.relocate(c)
		if err != nil {
			docLog.Error().Err(err).Msg("Failed to relocate document. Aborting remaining relocations.")
			runErr = fmt.Errorf("failed to relocate %s: %w", c.Identifier, err)
			break
		}
		if !moved {
			docLog.Warn().Msg("INCONSISTENT: document has neither an archive nor a purge folder.")
			res.Inconsistent++
			continue
		}
		relocated = append(relocated, c.DocumentID)
		docLog.Info().Msg("Document relocated to purge folder.")
	}
	res.Relocated = len(relocated)

	if len(relocated) > 0 {
		n, err := f.Ledger.TransitionDocuments(ctx, relocated, models.StatusDeleted, f.now())
		if err != nil {
			logCtx.Error().Err(err).Msg("Failed to mark relocated documents as deleted.")
			if runErr == nil {
				runErr = fmt.Errorf("failed to mark documents deleted: %w", err)
			}
		}
		res.Deleted = n
	}
	return res, runErr
}

// relocate moves the archive folder of c into the purge root. It reports true when
// the folder is in the purge root afterwards, including when an earlier run moved it.
func (f *RetentionFunction) relocate(c models.RetentionCandidate) (bool, error) {
	archiveDay, err := models.ParseDay(c.ArchiveDay)
	if err != nil {
		return false, fmt.Errorf("invalid archive day %q: %w", c.ArchiveDay, err)
	}
	base := documentBase(c.Identifier)
	src := filepath.Join(f.Layout.ArchiveDay(archiveDay), base)
	dstDir := f.Layout.PurgeDay(archiveDay)
	dst := filepath.Join(dstDir, base)

	srcExists, err := layout.Exists(src)
	if err != nil {
		return false, err
	}
	dstExists, err := layout.Exists(dst)
	if err != nil {
		return false, err
	}
	switch {
	case !srcExists && dstExists:
		return true, nil
	case !srcExists:
		return false, nil
	case dstExists:
		return false, fmt.Errorf("purge target %s already exists", dst)
	}

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return false, err
	}
	if err := os.Rename(src, dst); err != nil {
		return false, err
	}
	return true, nil
}
