// Package remote lists and streams PDFs from the server that drops them off.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Lllllllleong/pdfrasterflow/internal/config"
)

// ErrNotExist is returned when a folder or file is missing on the remote.
var ErrNotExist = errors.New("remote path does not exist")

// Entry describes one remote file or folder.
type Entry struct {
	Name    string
	Size    int64
	IsDir   bool
	ModTime time.Time
}

// Source is a remote file tree. Paths are slash separated and relative to the source root.
type Source interface {
	List(ctx context.Context, dir string) ([]Entry, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Stat(ctx context.Context, name string) (Entry, error)
	Close() error
}

// New creates the source selected by cfg.Driver.
func New(ctx context.Context, cfg config.RemoteConfig) (Source, error) {
	switch cfg.Driver {
	case "sftp":
		return NewSFTPSource(cfg)
	case "gcs":
		return NewGCSSource(ctx, cfg)
	case "s3":
		return NewS3Source(cfg)
	case "local":
		return NewLocalSource(cfg.Root), nil
	default:
		return nil, fmt.Errorf("unsupported remote driver: %s", cfg.Driver)
	}
}
