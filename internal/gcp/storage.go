package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// NewStorageClient creates a Cloud Storage client. A non-empty endpoint points the
// client at an emulator or another compatible server without credentials.
func NewStorageClient(ctx context.Context, endpoint string) (*storage.Client, error) {
	var opts []option.ClientOption
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return client, nil
}

// IsNotFound reports whether err means the bucket or object does not exist.
func IsNotFound(err error) bool {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return true
	}
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

// OpenObject streams an object. The caller closes the reader.
func OpenObject(ctx context.Context, bucket *storage.BucketHandle, objectName string) (io.ReadCloser, int64, error) {
	reader, err := bucket.Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open gs object %s: %w", objectName, err)
	}
	return reader, reader.Attrs.Size, nil
}
