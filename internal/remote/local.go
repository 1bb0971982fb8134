package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// LocalSource serves a directory tree on the local filesystem.
type LocalSource struct {
	root string
}

func NewLocalSource(root string) *LocalSource {
	return &LocalSource{root: root}
}

func (l *LocalSource) resolve(name string) string {
	return filepath.Join(l.root, filepath.FromSlash(name))
}

func (l *LocalSource) List(_ context.Context, dir string) ([]Entry, error) {
	items, err := os.ReadDir(l.resolve(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		info, err := item.Info()
		if err != nil {
			continue
		}
		entries = append(entries, entryFromInfo(info))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (l *LocalSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(l.resolve(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return f, nil
}

func (l *LocalSource) Stat(_ context.Context, name string) (Entry, error) {
	info, err := os.Stat(l.resolve(name))
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotExist, name)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	return entryFromInfo(info), nil
}

func (l *LocalSource) Close() error { return nil }

func entryFromInfo(info fs.FileInfo) Entry {
	return Entry{
		Name:    info.Name(),
		Size:    info.Size(),
		IsDir:   info.IsDir(),
		ModTime: info.ModTime(),
	}
}
