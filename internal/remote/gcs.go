package remote

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/Lllllllleong/pdfrasterflow/internal/config"
	"github.com/Lllllllleong/pdfrasterflow/internal/gcp"
)

// GCSSource reads objects under a prefix of a Cloud Storage bucket.
// Folders are object name prefixes; a prefix with no objects does not exist.
type GCSSource struct {
	client *storage.Client
	bucket *storage.BucketHandle
	root   string
}

func NewGCSSource(ctx context.Context, cfg config.RemoteConfig) (*GCSSource, error) {
	client, err := gcp.NewStorageClient(ctx, cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	return &GCSSource{
		client: client,
		bucket: client.Bucket(cfg.Bucket),
		root:   strings.Trim(cfg.Root, "/"),
	}, nil
}

func (g *GCSSource) objectName(name string) string {
	return strings.TrimPrefix(path.Join(g.root, name), "/")
}

func (g *GCSSource) List(ctx context.Context, dir string) ([]Entry, error) {
	prefix := g.objectName(dir)
	if prefix != "" {
		prefix += "/"
	}
	it := g.bucket.Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})

	var entries []Entry
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			if gcp.IsNotFound(err) {
				return nil, fmt.Errorf("%w: %s", ErrNotExist, dir)
			}
			return nil, fmt.Errorf("failed to list gs://%s: %w", prefix, err)
		}
		if attrs.Prefix != "" {
			entries = append(entries, Entry{Name: path.Base(attrs.Prefix), IsDir: true})
			continue
		}
		name := strings.TrimPrefix(attrs.Name, prefix)
		if name == "" {
			continue
		}
		entries = append(entries, Entry{Name: name, Size: attrs.Size, ModTime: attrs.Updated})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, dir)
	}
	return entries, nil
}

func (g *GCSSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	r, _, err := gcp.OpenObject(ctx, g.bucket, g.objectName(name))
	if err != nil {
		if gcp.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
		}
		return nil, err
	}
	return r, nil
}

func (g *GCSSource) Stat(ctx context.Context, name string) (Entry, error) {
	attrs, err := g.bucket.Object(g.objectName(name)).Attrs(ctx)
	if err != nil {
		if gcp.IsNotFound(err) {
			return Entry{}, fmt.Errorf("%w: %s", ErrNotExist, name)
		}
		return Entry{}, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	return Entry{Name: path.Base(attrs.Name), Size: attrs.Size, ModTime: attrs.Updated}, nil
}

func (g *GCSSource) Close() error {
	return g.client.Close()
}
