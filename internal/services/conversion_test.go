package services

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/pdfrasterflow/internal/ledger"
	"github.com/Lllllllleong/pdfrasterflow/internal/models"
	"github.com/Lllllllleong/pdfrasterflow/internal/raster"
	"github.com/Lllllllleong/pdfrasterflow/internal/raster/rastertest"
)

func newConversion(t *testing.T, env *testEnv, pages map[string]int, failAt int) (*ConversionFunction, *fakeRasterizer) {
	t.Helper()
	r := &fakeRasterizer{pages: pages, failAt: failAt}
	f, err := NewConversion(env.deps, ConversionConfig{DPI: 72}, r, fakeInspector{pages: pages})
	require.NoError(t, err)
	return f, r
}

func TestConversionProducesOneImagePerPage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	writeFile(t, filepath.Join(env.layout.IncomingDay(runDay), "invoice.pdf"), "%PDF")

	f, _ := newConversion(t, env, map[string]int{"invoice": 3}, 0)
	res, err := f.Process(ctx, runDay)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Converted)
	assert.Equal(t, 3, res.PageImages)
	assert.Equal(t, 3, res.PagesRecorded)

	dirs := filepath.Join(env.layout.WorkingDay(runDay), "invoice")
	assert.Equal(t, []string{"invoice_1.jpg", "invoice_2.jpg", "invoice_3.jpg"}, listNames(t, filepath.Join(dirs, "converted")))
	assert.Equal(t, []string{"invoice.pdf"}, listNames(t, filepath.Join(dirs, "original")))

	doc, err := env.ledger.FindDocument(ctx, "invoice.pdf", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, doc.Status)
	assert.Equal(t, 3, doc.PageCount)

	pages, err := env.ledger.QueryPageImages(ctx, ledger.PageImageFilter{DocumentID: doc.ID})
	require.NoError(t, err)
	require.Len(t, pages, 3)
	for _, p := range pages {
		assert.FileExists(t, filepath.Join(dirs, "converted", p.Filename))
		assert.Equal(t, "invoice.pdf", p.DocumentIdentifier)
	}
}

func TestConversionIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	writeFile(t, filepath.Join(env.layout.IncomingDay(runDay), "invoice.pdf"), "%PDF")

	f, r := newConversion(t, env, map[string]int{"invoice": 2}, 0)
	_, err := f.Process(ctx, runDay)
	require.NoError(t, err)

	res, err := f.Process(ctx, runDay)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Converted)
	assert.Equal(t, 1, res.Reused)
	assert.Equal(t, 0, res.PageImages)
	assert.Equal(t, 1, r.calls)

	pages, err := env.ledger.QueryPageImages(ctx, ledger.PageImageFilter{Identifier: "invoice.pdf"})
	require.NoError(t, err)
	assert.Len(t, pages, 2)

	doc, err := env.ledger.FindDocument(ctx, "invoice.pdf", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, doc.Status)
}

func TestConversionFailureMovesToFailedFolder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	writeFile(t, filepath.Join(env.layout.IncomingDay(runDay), "broken.pdf"), "%PDF")
	writeFile(t, filepath.Join(env.layout.IncomingDay(runDay), "good.pdf"), "%PDF")

	pages := map[string]int{"broken": 3, "good": 1}
	r := &fakeRasterizer{pages: pages}
	f, err := NewConversion(env.deps, ConversionConfig{}, failingFor("broken", 2, r), fakeInspector{pages: pages})
	require.NoError(t, err)

	res, err := f.Process(ctx, runDay)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Converted)

	broken, err := env.ledger.FindDocument(ctx, "broken.pdf", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, broken.Status)
	assert.Contains(t, broken.ErrorDetails, "render failed")

	assert.DirExists(t, filepath.Join(env.layout.FailedDay(runDay), "broken"))
	assert.NoDirExists(t, filepath.Join(env.layout.WorkingDay(runDay), "broken"))
	assert.FileExists(t, filepath.Join(env.layout.FailedDay(runDay), "broken", "converted", "broken_1.jpg"))

	good, err := env.ledger.FindDocument(ctx, "good.pdf", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, good.Status)

	again, err := f.Process(ctx, runDay)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Skipped)
	assert.Equal(t, 0, again.Failed)
}

func TestConversionInvalidPDF(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	in := env.layout.IncomingDay(runDay)
	rastertest.WriteCorrupt(t, in, "scan.pdf")

	f, err := NewConversion(env.deps, ConversionConfig{}, &fakeRasterizer{}, raster.NewPDFCPUInspector())
	require.NoError(t, err)

	res, err := f.Process(ctx, runDay)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	doc, err := env.ledger.FindDocument(ctx, "scan.pdf", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, doc.Status)
	assert.Contains(t, doc.ErrorDetails, "failed to validate PDF")
}

func TestConversionRecordsPagesLeftOnDisk(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	writeFile(t, filepath.Join(env.layout.IncomingDay(runDay), "invoice.pdf"), "%PDF")
	converted := filepath.Join(env.layout.WorkingDay(runDay), "invoice", "converted")
	writeFile(t, filepath.Join(converted, "invoice_1.jpg"), "jpg")
	writeFile(t, filepath.Join(converted, "invoice_2.jpg"), "jpg")

	f, r := newConversion(t, env, map[string]int{"invoice": 2}, 0)
	res, err := f.Process(ctx, runDay)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reused)
	assert.Equal(t, 0, r.calls)
	assert.Equal(t, 0, res.PageImages)
	assert.Equal(t, 2, res.PagesRecorded)

	pages, err := env.ledger.QueryPageImages(ctx, ledger.PageImageFilter{Identifier: "invoice.pdf"})
	require.NoError(t, err)
	assert.Len(t, pages, 2)
}

func TestConversionResumesPartialRender(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	writeFile(t, filepath.Join(env.layout.IncomingDay(runDay), "invoice.pdf"), "%PDF")
	converted := filepath.Join(env.layout.WorkingDay(runDay), "invoice", "converted")
	writeFile(t, filepath.Join(converted, "invoice_1.jpg"), "jpg")

	_, err := env.ledger.UpsertDocument(ctx, models.DocumentRecord{
		Identifier: "invoice.pdf",
		PageCount:  3,
		Status:     models.StatusProcessing,
		SeenDay:    "2024-03-01",
	})
	require.NoError(t, err)

	f, r := newConversion(t, env, map[string]int{"invoice": 3}, 0)
	res, err := f.Process(ctx, runDay)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Converted)
	assert.Equal(t, 1, r.calls)
	assert.Equal(t, 2, res.PageImages)
	assert.Equal(t, 3, res.PagesRecorded)

	// The image left on disk is kept as is.
	body, err := os.ReadFile(filepath.Join(converted, "invoice_1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpg", string(body))
	assert.Equal(t, []string{"invoice_1.jpg", "invoice_2.jpg", "invoice_3.jpg"}, listNames(t, converted))
}

func TestConversionSkipsPastStatuses(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	writeFile(t, filepath.Join(env.layout.IncomingDay(runDay), "invoice.pdf"), "%PDF")

	_, err := env.ledger.UpsertDocument(ctx, models.DocumentRecord{
		Identifier: "invoice.pdf",
		Status:     models.StatusDone,
		SeenDay:    "2024-03-01",
	})
	require.NoError(t, err)

	f, r := newConversion(t, env, map[string]int{"invoice": 1}, 0)
	res, err := f.Process(ctx, runDay)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, r.calls)
}

func TestConversionZeroPages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	writeFile(t, filepath.Join(env.layout.IncomingDay(runDay), "blank.pdf"), "%PDF")

	f, _ := newConversion(t, env, map[string]int{"blank": 0}, 0)
	res, err := f.Process(ctx, runDay)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Converted)

	doc, err := env.ledger.FindDocument(ctx, "blank.pdf", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, doc.Status)
}

func TestConversionMissingIncomingFolder(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.RemoveAll(env.layout.IncomingDay(runDay)))

	f, _ := newConversion(t, env, nil, 0)
	res, err := f.Process(context.Background(), runDay)
	require.NoError(t, err)
	assert.Equal(t, models.ConversionResult{Day: "2024-03-01"}, *res)
}

// failingFor wraps r so that only the named document fails at page.
func failingFor(base string, page int, r *fakeRasterizer) raster.Rasterizer {
	return &selectiveRasterizer{base: base, page: page, next: r}
}

type selectiveRasterizer struct {
	base string
	page int
	next *fakeRasterizer
}

func (s *selectiveRasterizer) Rasterize(ctx context.Context, pdfPath string, dpi int, emit func(int, image.Image) error) error {
	if filepath.Base(pdfPath) == s.base+".pdf" {
		s.next.failAt = s.page
		defer func() { s.next.failAt = 0 }()
	}
	return s.next.Rasterize(ctx, pdfPath, dpi, emit)
}

func TestConversionTakesWorkFromLedger(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	elsewhere := filepath.Join(t.TempDir(), "manual.pdf")
	writeFile(t, elsewhere, "%PDF")
	_, err := env.ledger.UpsertDocument(ctx, models.DocumentRecord{
		Identifier: "manual.pdf",
		LocalPath:  elsewhere,
		SeenDay:    "2024-03-01",
	})
	require.NoError(t, err)
	_, err = env.ledger.UpsertDocument(ctx, models.DocumentRecord{
		Identifier: "vanished.pdf",
		LocalPath:  filepath.Join(env.layout.IncomingDay(runDay), "vanished.pdf"),
		SeenDay:    "2024-03-01",
	})
	require.NoError(t, err)

	f, _ := newConversion(t, env, map[string]int{"manual": 2}, 0)
	res, err := f.Process(ctx, runDay)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Converted)
	assert.Equal(t, 0, res.Failed)

	manual, err := env.ledger.FindDocument(ctx, "manual.pdf", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, manual.Status)

	vanished, err := env.ledger.FindDocument(ctx, "vanished.pdf", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, vanished.Status)
}
