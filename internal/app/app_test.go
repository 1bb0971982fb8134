package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/pdfrasterflow/internal/lease"
	"github.com/Lllllllleong/pdfrasterflow/internal/ledger"
	"github.com/Lllllllleong/pdfrasterflow/internal/models"
)

func writeConfig(t *testing.T, root string) string {
	t.Helper()
	body := `root: ` + root + `
obfuscated: false
remote:
  driver: local
  root: remote
lease:
  driver: ledger
  ttl: 1h
log:
  console: false
  level: debug
`
	path := filepath.Join(root, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRunIngestWithLocalRemote(t *testing.T) {
	root := t.TempDir()
	cfgPath := writeConfig(t, root)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "remote", "240301"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "remote", "240301", "invoice.pdf"), []byte("%PDF"), 0o644))

	err := Run(context.Background(), StageIngest, Options{ConfigPath: cfgPath, Date: "2024-03-01"}, Ingest)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(root, "input", "240301", "invoice.pdf"))
	assert.FileExists(t, filepath.Join(root, "logs", "pdf_convert.log"))
	assert.FileExists(t, filepath.Join(root, "conversion.db"))

	cfg := ledger.DefaultConfig()
	cfg.Path = filepath.Join(root, "conversion.db")
	l, err := ledger.Open(context.Background(), cfg)
	require.NoError(t, err)
	defer l.Close()
	doc, err := l.FindDocument(context.Background(), "invoice.pdf", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, doc.Status)

	// The lease was released, so a second run goes through.
	require.NoError(t, Run(context.Background(), StageIngest, Options{ConfigPath: cfgPath, Date: "2024-03-01"}, Ingest))
}

func TestRunRefusesWhenLeaseHeld(t *testing.T) {
	root := t.TempDir()
	cfgPath := writeConfig(t, root)

	cfg := ledger.DefaultConfig()
	cfg.Path = filepath.Join(root, "conversion.db")
	l, err := ledger.Open(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, l.TryLease(context.Background(), StageConvert, "2024-03-01", "other-run", time.Hour))
	require.NoError(t, l.Close())

	called := false
	err = Run(context.Background(), StageConvert, Options{ConfigPath: cfgPath, Date: "2024-03-01"},
		func(context.Context, *Env) (interface{}, error) {
			called = true
			return nil, nil
		})
	assert.True(t, errors.Is(err, lease.ErrHeld))
	assert.False(t, called)
}

func TestRunPassesDayAndDryRun(t *testing.T) {
	root := t.TempDir()
	cfgPath := writeConfig(t, root)

	var got *Env
	err := Run(context.Background(), StageRetain, Options{ConfigPath: cfgPath, Date: "2024-03-05", DryRun: true},
		func(_ context.Context, env *Env) (interface{}, error) {
			got = env
			return "ok", nil
		})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "2024-03-05", models.Day(got.Day))
	assert.True(t, got.DryRun)
	assert.NotEmpty(t, got.RunID)
	assert.Equal(t, root, got.Layout.Root)
}

func TestRunStageErrorIsReturned(t *testing.T) {
	root := t.TempDir()
	cfgPath := writeConfig(t, root)

	boom := errors.New("boom")
	err := Run(context.Background(), StagePromote, Options{ConfigPath: cfgPath},
		func(context.Context, *Env) (interface{}, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
}

func TestRunRejectsBadDate(t *testing.T) {
	err := Run(context.Background(), StageReport, Options{Date: "03/01/2024"}, Report)
	assert.ErrorContains(t, err, "invalid --date")
}

func TestNewCommandFlags(t *testing.T) {
	retain := NewCommand(StageRetain, "retain", Retain)
	assert.NotNil(t, retain.Flags().Lookup("dry-run"))
	assert.NotNil(t, retain.Flags().Lookup("config"))

	convert := NewCommand(StageConvert, "convert", Convert)
	assert.Nil(t, convert.Flags().Lookup("dry-run"))
	assert.NotNil(t, convert.Flags().Lookup("date"))
	assert.NotNil(t, convert.Flags().Lookup("log-level"))
}

func TestCommandRunsStage(t *testing.T) {
	root := t.TempDir()
	cfgPath := writeConfig(t, root)

	called := false
	cmd := NewCommand(StagePromote, "promote", func(_ context.Context, env *Env) (interface{}, error) {
		called = true
		assert.Equal(t, "2024-03-02", models.Day(env.Day))
		return nil, nil
	})
	cmd.SetArgs([]string{"--config", cfgPath, "--date", "2024-03-02"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.True(t, called)
}
