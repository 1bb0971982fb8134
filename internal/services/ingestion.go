package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Lllllllleong/pdfrasterflow/internal/ledger"
	"github.com/Lllllllleong/pdfrasterflow/internal/models"
	"github.com/Lllllllleong/pdfrasterflow/internal/remote"
)

type IngestionFunction struct {
	Deps
	source remote.Source
}

func NewIngestion(deps Deps, source remote.Source) (*IngestionFunction, error) {
	if deps.Ledger == nil || deps.Layout == nil {
		return nil, fmt.Errorf("ingestion needs a ledger and a layout")
	}
	if source == nil {
		return nil, fmt.Errorf("ingestion needs a remote source")
	}
	deps.Log.Info().Msg("Ingestion stage initialized.")
	return &IngestionFunction{Deps: deps, source: source}, nil
}

// Process fetches every PDF in the remote day folder that the ledger has not seen today.
func (f *IngestionFunction) Process(ctx context.Context, day time.Time) (*models.IngestionResult, error) {
	res := &models.IngestionResult{Day: models.Day(day)}
	remoteDir := models.FolderDay(day)
	logCtx := f.Log.With().Str("remoteDir", remoteDir).Logger()

	entries, err := f.source.List(ctx, remoteDir)
	if errors.Is(err, remote.ErrNotExist) {
		logCtx.Warn().Msg("Remote day folder does not exist. Nothing to fetch.")
		return res, nil
	}
	if err != nil {
		logCtx.Error().Err(err).Msg("Failed to list remote day folder.")
		return res, fmt.Errorf("failed to list remote folder %s: %w", remoteDir, err)
	}

	destDir := f.Layout.IncomingDay(day)
	for _, entry := range entries {
		if entry.IsDir || !strings.HasSuffix(strings.ToLower(entry.Name), ".pdf") {
			continue
		}
		res.Listed++
		docLog := logCtx.With().Str("document", entry.Name).Logger()

		fetched, err := f.ingestOne(ctx, docLog, remoteDir, destDir, entry, res.Day)
		switch {
		case err != nil:
			res.Failed++
			docLog.Error().Err(err).Msg("Failed to ingest document.")
		case fetched:
			res.Fetched++
		default:
			res.Skipped++
		}
	}

	if res.Listed == 0 {
		logCtx.Info().Msg("No PDF files found in remote day folder.")
	}
	return res, nil
}

func (f *IngestionFunction) ingestOne(ctx context.Context, logCtx zerolog.Logger, remoteDir, destDir string, entry remote.Entry, day string) (bool, error) {
	_, err := f.Ledger.FindDocument(ctx, entry.Name, day)
	if err == nil {
		logCtx.Info().Msg("SKIPPING: document already ingested today.")
		return false, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return false, fmt.Errorf("failed to look up ledger: %w", err)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return false, fmt.Errorf("failed to create %s: %w", destDir, err)
	}
	remotePath := path.Join(remoteDir, entry.Name)
	localPath := filepath.Join(destDir, entry.Name)

	written, err := f.fetch(ctx, remotePath, localPath)
	if err != nil {
		return false, err
	}

	size := entry.Size
	if size <= 0 {
		if st, err := f.source.Stat(ctx, remotePath); err == nil && st.Size > 0 {
			size = st.Size
		} else {
			size = written
		}
	}

	now := f.now()
	inserted, err := f.Ledger.UpsertDocument(ctx, models.DocumentRecord{
		Identifier:  entry.Name,
		LocalPath:   localPath,
		FileSize:    size,
		Status:      models.StatusPending,
		SeenDay:     day,
		FirstSeenAt: now,
		UpdatedAt:   now,
	})
	if err != nil {
		return false, fmt.Errorf("failed to record document: %w", err)
	}
	if !inserted {
		logCtx.Warn().Msg("Document was recorded concurrently. Keeping the existing record.")
		return false, nil
	}
	logCtx.Info().Int64("size", size).Str("localPath", localPath).Msg("Document fetched and recorded.")
	return true, nil
}

// fetch streams remotePath into localPath through a temp file in the same folder.
func (f *IngestionFunction) fetch(ctx context.Context, remotePath, localPath string) (int64, error) {
	rc, err := f.source.Open(ctx, remotePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open remote file: %w", err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".fetch-*.pdf")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, rc)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to copy remote file to local file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to flush local file: %w", err)
	}
	if err := os.Rename(tmp.Name(), localPath); err != nil {
		return 0, fmt.Errorf("failed to move fetched file into place: %w", err)
	}
	return n, nil
}
