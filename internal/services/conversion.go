package services

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Lllllllleong/pdfrasterflow/internal/layout"
	"github.com/Lllllllleong/pdfrasterflow/internal/ledger"
	"github.com/Lllllllleong/pdfrasterflow/internal/models"
	"github.com/Lllllllleong/pdfrasterflow/internal/raster"
)

type ConversionConfig struct {
	DPI         int
	JPEGQuality int
}

type ConversionFunction struct {
	Deps
	config     ConversionConfig
	rasterizer raster.Rasterizer
	inspector  raster.Inspector
}

type conversionOutcome int

const (
	outcomeConverted conversionOutcome = iota
	outcomeReused
	outcomeSkipped
)

func NewConversion(deps Deps, config ConversionConfig, rasterizer raster.Rasterizer, inspector raster.Inspector) (*ConversionFunction, error) {
	if deps.Ledger == nil || deps.Layout == nil {
		return nil, fmt.Errorf("conversion needs a ledger and a layout")
	}
	if rasterizer == nil || inspector == nil {
		return nil, fmt.Errorf("conversion needs a rasterizer and an inspector")
	}
	if config.DPI <= 0 {
		config.DPI = raster.DefaultDPI
	}
	if config.JPEGQuality <= 0 {
		config.JPEGQuality = raster.DefaultQuality
	}
	deps.Log.Info().Int("dpi", config.DPI).Msg("Conversion stage initialized.")
	return &ConversionFunction{Deps: deps, config: config, rasterizer: rasterizer, inspector: inspector}, nil
}

// Process rasterizes the day's documents. Work comes from the ledger's pending and
// processing records plus any PDF in the incoming day folder the ledger has not seen.
// A failing document is recorded and moved aside; it never stops the others.
func (f *ConversionFunction) Process(ctx context.Context, day time.Time) (*models.ConversionResult, error) {
	res := &models.ConversionResult{Day: models.Day(day)}
	inDir := f.Layout.IncomingDay(day)
	logCtx := f.Log.With().Str("incomingDir", inDir).Logger()

	work, err := f.workItems(ctx, logCtx, day, inDir)
	if err != nil {
		return res, err
	}
	if len(work) == 0 {
		logCtx.Info().Msg("Nothing to convert for this day.")
		return res, nil
	}

	for _, pdfPath := range work {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		docLog := logCtx.With().Str("document", filepath.Base(pdfPath)).Logger()

		outcome, tally, err := f.convertOne(ctx, docLog, day, pdfPath)
		if err != nil {
			res.Failed++
			continue
		}
		res.PageImages += tally.rendered
		res.PagesRecorded += tally.recorded
		switch outcome {
		case outcomeConverted:
			res.Converted++
		case outcomeReused:
			res.Reused++
		case outcomeSkipped:
			res.Skipped++
		}
	}
	return res, nil
}

// workItems merges the ledger's outstanding records for day with the PDFs on disk,
// ledger entries first. Records whose file is gone are logged and left alone.
func (f *ConversionFunction) workItems(ctx context.Context, logCtx zerolog.Logger, day time.Time, inDir string) ([]string, error) {
	recs, err := f.Ledger.QueryDocuments(ctx, ledger.DocumentFilter{
		SeenDay:  models.Day(day),
		Statuses: []models.Status{models.StatusPending, models.StatusProcessing},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list outstanding documents: %w", err)
	}

	seen := make(map[string]bool)
	var work []string
	for _, rec := range recs {
		pdfPath := rec.LocalPath
		if pdfPath == "" {
			pdfPath = filepath.Join(inDir, rec.Identifier)
		}
		if ok, _ := layout.Exists(pdfPath); !ok {
			logCtx.Warn().Str("document", rec.Identifier).Str("localPath", pdfPath).Msg("INCONSISTENT: ledger record has no file on disk.")
			continue
		}
		seen[filepath.Base(pdfPath)] = true
		work = append(work, pdfPath)
	}

	items, err := os.ReadDir(inDir)
	if errors.Is(err, os.ErrNotExist) {
		return work, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read incoming folder: %w", err)
	}
	for _, item := range items {
		if item.IsDir() || !strings.HasSuffix(strings.ToLower(item.Name()), ".pdf") || seen[item.Name()] {
			continue
		}
		work = append(work, filepath.Join(inDir, item.Name()))
	}
	return work, nil
}

// pageTally separates images rendered from page records inserted.
type pageTally struct {
	rendered int
	recorded int
}

func (f *ConversionFunction) convertOne(ctx context.Context, logCtx zerolog.Logger, day time.Time, pdfPath string) (conversionOutcome, pageTally, error) {
	var none pageTally
	name := filepath.Base(pdfPath)
	rec, err := f.lookupOrRegister(ctx, name, pdfPath, day)
	if err != nil {
		logCtx.Error().Err(err).Msg("Failed to resolve ledger record.")
		return 0, none, err
	}
	logCtx = logCtx.With().Int64("documentId", rec.ID).Logger()

	switch rec.Status {
	case models.StatusFailed, models.StatusDone, models.StatusDeleted:
		logCtx.Info().Str("status", string(rec.Status)).Msg("SKIPPING: document is past conversion.")
		return outcomeSkipped, none, nil
	}

	if err := f.Ledger.TransitionRecord(ctx, rec.ID, models.StatusProcessing, f.now(), ""); err != nil {
		logCtx.Error().Err(err).Msg("Failed to mark document as processing.")
		return 0, none, err
	}

	base := documentBase(name)
	dirs := layout.Document(f.Layout.WorkingDay(day), base)

	if err := prepareWorkingDirs(dirs, pdfPath); err != nil {
		return 0, none, f.handleError(ctx, logCtx, rec, day, dirs, "failed to prepare working folder", err)
	}

	existing, err := existingImages(dirs.Converted, base)
	if err != nil {
		return 0, none, f.handleError(ctx, logCtx, rec, day, dirs, "failed to read converted folder", err)
	}
	if len(existing) > 0 && (rec.PageCount == 0 || len(existing) >= rec.PageCount) {
		recorded, err := f.recordMissingPages(ctx, rec, existing)
		if err != nil {
			return 0, none, f.handleError(ctx, logCtx, rec, day, dirs, "failed to reconcile page images", err)
		}
		if err := f.Ledger.TransitionRecord(ctx, rec.ID, models.StatusCompleted, f.now(), ""); err != nil {
			logCtx.Error().Err(err).Msg("Failed to mark document as completed.")
			return 0, none, err
		}
		logCtx.Info().Int("images", len(existing)).Int("recorded", recorded).Msg("SKIPPING rasterization: images already exist.")
		return outcomeReused, pageTally{recorded: recorded}, nil
	}

	original := filepath.Join(dirs.Original, name)
	pageCount, err := f.inspector.Inspect(original)
	if err != nil {
		return 0, none, f.handleError(ctx, logCtx, rec, day, dirs, "failed to validate PDF", err)
	}
	if err := f.Ledger.SetPageCount(ctx, rec.ID, pageCount); err != nil {
		return 0, none, f.handleError(ctx, logCtx, rec, day, dirs, "failed to record page count", err)
	}

	tally, err := f.rasterize(ctx, rec, original, dirs.Converted, base, existing)
	if err != nil {
		return 0, none, f.handleError(ctx, logCtx, rec, day, dirs, "failed to rasterize PDF", err)
	}

	if err := f.Ledger.TransitionRecord(ctx, rec.ID, models.StatusCompleted, f.now(), ""); err != nil {
		logCtx.Error().Err(err).Msg("Failed to mark document as completed.")
		return 0, none, err
	}
	logCtx.Info().Int("pageCount", pageCount).Int("rendered", tally.rendered).Int("recorded", tally.recorded).Msg("Document converted.")
	return outcomeConverted, tally, nil
}

// lookupOrRegister returns the record for name on day, registering a pending one
// when the file reached the incoming folder without going through ingestion.
func (f *ConversionFunction) lookupOrRegister(ctx context.Context, name, pdfPath string, day time.Time) (*models.DocumentRecord, error) {
	dayStr := models.Day(day)
	rec, err := f.Ledger.FindDocument(ctx, name, dayStr)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return nil, err
	}

	var size int64
	if info, err := os.Stat(pdfPath); err == nil {
		size = info.Size()
	}
	now := f.now()
	if _, err := f.Ledger.UpsertDocument(ctx, models.DocumentRecord{
		Identifier:  name,
		LocalPath:   pdfPath,
		FileSize:    size,
		Status:      models.StatusPending,
		SeenDay:     dayStr,
		FirstSeenAt: now,
		UpdatedAt:   now,
	}); err != nil {
		return nil, err
	}
	return f.Ledger.FindDocument(ctx, name, dayStr)
}

// rasterize renders every page not already on disk. Each image is written before its
// record is inserted, so a record always has a file behind it.
func (f *ConversionFunction) rasterize(ctx context.Context, rec *models.DocumentRecord, pdfPath, outDir, base string, existing []string) (pageTally, error) {
	var tally pageTally
	recorded, err := f.recordedPages(ctx, rec.ID)
	if err != nil {
		return tally, err
	}
	onDisk := make(map[string]bool, len(existing))
	for _, name := range existing {
		onDisk[name] = true
	}

	err = f.rasterizer.Rasterize(ctx, pdfPath, f.config.DPI, func(page int, img image.Image) error {
		filename := fmt.Sprintf("%s_%d.jpg", base, page)
		if onDisk[filename] && recorded[filename] {
			return nil
		}
		if !onDisk[filename] {
			if err := raster.WriteJPEG(filepath.Join(outDir, filename), img, f.config.JPEGQuality); err != nil {
				return err
			}
			tally.rendered++
		}
		if !recorded[filename] {
			now := f.now()
			if err := f.Ledger.InsertPageImage(ctx, models.PageImageRecord{
				Filename:           filename,
				DocumentID:         rec.ID,
				DocumentIdentifier: rec.Identifier,
				Status:             models.StatusCompleted,
				CreatedAt:          now,
				UpdatedAt:          now,
			}); err != nil {
				return err
			}
			tally.recorded++
		}
		return nil
	})
	return tally, err
}

// recordMissingPages inserts records for images left on disk by an interrupted run.
func (f *ConversionFunction) recordMissingPages(ctx context.Context, rec *models.DocumentRecord, images []string) (int, error) {
	recorded, err := f.recordedPages(ctx, rec.ID)
	if err != nil {
		return 0, err
	}
	inserted := 0
	for _, name := range images {
		if recorded[name] {
			continue
		}
		now := f.now()
		if err := f.Ledger.InsertPageImage(ctx, models.PageImageRecord{
			Filename:           name,
			DocumentID:         rec.ID,
			DocumentIdentifier: rec.Identifier,
			Status:             models.StatusCompleted,
			CreatedAt:          now,
			UpdatedAt:          now,
		}); err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

func (f *ConversionFunction) recordedPages(ctx context.Context, documentID int64) (map[string]bool, error) {
	pages, err := f.Ledger.QueryPageImages(ctx, ledger.PageImageFilter{DocumentID: documentID})
	if err != nil {
		return nil, err
	}
	recorded := make(map[string]bool, len(pages))
	for _, p := range pages {
		recorded[p.Filename] = true
	}
	return recorded, nil
}

// handleError marks the document failed, moves its working folder under the failure
// root and returns the error for the caller to count.
func (f *ConversionFunction) handleError(ctx context.Context, logCtx zerolog.Logger, rec *models.DocumentRecord, day time.Time, dirs layout.DocumentDirs, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error().Err(originalErr).Msg(message)

	if err := f.Ledger.TransitionRecord(ctx, rec.ID, models.StatusFailed, f.now(), fullError); err != nil {
		logCtx.Error().Err(err).Msg("CRITICAL: Failed to mark document as failed after a processing error.")
	}

	target, err := f.moveToFailed(dirs.Base, day)
	if err != nil {
		logCtx.Error().Err(err).Msg("Failed to move working folder to the failed folder.")
	} else if target != "" {
		logCtx.Info().Str("failedPath", target).Msg("Working folder moved to the failed folder.")
	}
	return errors.New(fullError)
}

func (f *ConversionFunction) moveToFailed(workDir string, day time.Time) (string, error) {
	exists, err := layout.Exists(workDir)
	if err != nil || !exists {
		return "", err
	}
	failedDay := f.Layout.FailedDay(day)
	if err := os.MkdirAll(failedDay, 0o755); err != nil {
		return "", err
	}
	target := filepath.Join(failedDay, filepath.Base(workDir))
	if taken, err := layout.Exists(target); err != nil {
		return "", err
	} else if taken {
		target = fmt.Sprintf("%s_%s", target, f.now().Format("20060102150405"))
	}
	if err := os.Rename(workDir, target); err != nil {
		return "", err
	}
	return target, nil
}

func prepareWorkingDirs(dirs layout.DocumentDirs, pdfPath string) error {
	for _, dir := range []string{dirs.Original, dirs.Converted} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return copyFile(pdfPath, filepath.Join(dirs.Original, filepath.Base(pdfPath)))
}

// existingImages lists <base>_*.jpg files in dir ordered by page number.
func existingImages(dir, base string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, globEscape(base)+"_*.jpg"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	sort.Slice(names, func(i, j int) bool {
		return pageIndex(names[i], base) < pageIndex(names[j], base)
	})
	return names, nil
}

func pageIndex(filename, base string) int {
	var n int
	fmt.Sscanf(strings.TrimPrefix(filename, base+"_"), "%d.jpg", &n)
	return n
}

func globEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`)
	return r.Replace(s)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".copy-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
