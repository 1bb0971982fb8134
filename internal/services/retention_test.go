package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/pdfrasterflow/internal/models"
)

// archiveDone seeds a done document with one page image created at the current clock
// and its archive folder.
func archiveDone(t *testing.T, env *testEnv, identifier string) *models.DocumentRecord {
	t.Helper()
	ctx := context.Background()
	rec := seedDoc(t, env, identifier, models.StatusCompleted)
	base := identifier[:len(identifier)-len(filepath.Ext(identifier))]
	require.NoError(t, env.ledger.InsertPageImage(ctx, models.PageImageRecord{
		Filename:           base + "_1.jpg",
		DocumentID:         rec.ID,
		DocumentIdentifier: identifier,
		CreatedAt:          env.deps.now(),
	}))
	require.NoError(t, env.ledger.TransitionRecord(ctx, rec.ID, models.StatusDone, env.deps.now(), ""))
	writeFile(t, filepath.Join(env.layout.ArchiveDay(env.deps.now()), base, "converted", base+"_1.jpg"), "jpg")
	return rec
}

func TestRetentionBoundary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	archiveDone(t, env, "old.pdf")
	env.setClock(runDay.AddDate(0, 0, 1))
	archiveDone(t, env, "fresh.pdf")

	f, err := NewRetention(env.deps, RetentionConfig{MinAgeDays: 1, DryRun: true})
	require.NoError(t, err)

	res, err := f.Process(ctx, runDay)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", res.CutoffDay)
	assert.Equal(t, 0, res.Candidates)

	res, err = f.Process(ctx, runDay.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", res.CutoffDay)
	assert.Equal(t, []string{"old.pdf (2024-03-01)"}, res.DryRun)

	res, err = f.Process(ctx, runDay.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Candidates)
}

func TestRetentionRelocatesAndDeletes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	archiveDone(t, env, "old.pdf")
	env.setClock(runDay.AddDate(0, 0, 1))
	archiveDone(t, env, "fresh.pdf")

	f, err := NewRetention(env.deps, RetentionConfig{MinAgeDays: 1})
	require.NoError(t, err)
	res, err := f.Process(ctx, runDay.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Candidates)
	assert.Equal(t, 1, res.Relocated)
	assert.Equal(t, int64(1), res.Deleted)

	assert.DirExists(t, filepath.Join(env.layout.PurgeDay(runDay), "old"))
	assert.NoDirExists(t, filepath.Join(env.layout.ArchiveDay(runDay), "old"))
	assert.DirExists(t, filepath.Join(env.layout.ArchiveDay(runDay.AddDate(0, 0, 1)), "fresh"))

	old, err := env.ledger.FindDocument(ctx, "old.pdf", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, old.Status)

	fresh, err := env.ledger.FindDocument(ctx, "fresh.pdf", "2024-03-02")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, fresh.Status)
}

func TestRetentionOnlyDeletesDone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seedDoc(t, env, "stuck.pdf", models.StatusCompleted)
	writeFile(t, filepath.Join(env.layout.ArchiveDay(runDay), "stuck", "original", "stuck.pdf"), "%PDF")

	f, err := NewRetention(env.deps, RetentionConfig{MinAgeDays: 1})
	require.NoError(t, err)
	res, err := f.Process(ctx, runDay.AddDate(0, 0, 5))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Candidates)

	doc, err := env.ledger.FindDocument(ctx, "stuck.pdf", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, doc.Status)
	assert.DirExists(t, filepath.Join(env.layout.ArchiveDay(runDay), "stuck"))
}

func TestRetentionReconcilesAndReportsInconsistency(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	archiveDone(t, env, "moved.pdf")
	archiveDone(t, env, "lost.pdf")
	writeFile(t, filepath.Join(env.layout.PurgeDay(runDay), "moved", "converted", "moved_1.jpg"), "jpg")
	removeAll(t, filepath.Join(env.layout.ArchiveDay(runDay), "moved"))
	removeAll(t, filepath.Join(env.layout.ArchiveDay(runDay), "lost"))

	f, err := NewRetention(env.deps, RetentionConfig{MinAgeDays: 1})
	require.NoError(t, err)
	res, err := f.Process(ctx, runDay.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Candidates)
	assert.Equal(t, 1, res.Relocated)
	assert.Equal(t, 1, res.Inconsistent)

	lost, err := env.ledger.FindDocument(ctx, "lost.pdf", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, lost.Status)
	moved, err := env.ledger.FindDocument(ctx, "moved.pdf", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, moved.Status)
}

func TestRetentionDryRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	archiveDone(t, env, "old.pdf")

	f, err := NewRetention(env.deps, RetentionConfig{MinAgeDays: 1, DryRun: true})
	require.NoError(t, err)
	res, err := f.Process(ctx, runDay.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"old.pdf (2024-03-01)"}, res.DryRun)
	assert.Equal(t, 0, res.Relocated)
	assert.DirExists(t, filepath.Join(env.layout.ArchiveDay(runDay), "old"))

	doc, err := env.ledger.FindDocument(ctx, "old.pdf", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, doc.Status)
}

func TestNewRetentionRejectsNegativeAge(t *testing.T) {
	env := newTestEnv(t)
	_, err := NewRetention(env.deps, RetentionConfig{MinAgeDays: -1})
	assert.Error(t, err)
}

func TestRetentionBackfilledDay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	writeFile(t, filepath.Join(env.layout.IncomingDay(runDay), "invoice.pdf"), "%PDF")

	// Converted and promoted three days after the day it belongs to.
	env.setClock(runDay.AddDate(0, 0, 3))
	conv, _ := newConversion(t, env, map[string]int{"invoice": 2}, 0)
	_, err := conv.Process(ctx, runDay)
	require.NoError(t, err)
	prom, err := NewPromotion(env.deps, PromotionConfig{})
	require.NoError(t, err)
	_, err = prom.Process(ctx, runDay)
	require.NoError(t, err)
	require.Equal(t, []string{"invoice"}, listNames(t, env.layout.ArchiveDay(runDay)))

	later := runDay.AddDate(0, 0, 10)
	env.setClock(later)
	f, err := NewRetention(env.deps, RetentionConfig{MinAgeDays: 1})
	require.NoError(t, err)
	res, err := f.Process(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Candidates)
	assert.Equal(t, 1, res.Relocated)
	assert.Equal(t, 0, res.Inconsistent)
	assert.Equal(t, int64(1), res.Deleted)

	assert.Empty(t, listNames(t, env.layout.ArchiveDay(runDay)))
	assert.DirExists(t, filepath.Join(env.layout.PurgeDay(runDay), "invoice"))

	doc, err := env.ledger.FindDocument(ctx, "invoice.pdf", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, doc.Status)
}
