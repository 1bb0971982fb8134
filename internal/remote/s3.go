package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/Lllllllleong/pdfrasterflow/internal/config"
)

// S3Source reads objects under a prefix of an S3 bucket.
type S3Source struct {
	client *s3.S3
	bucket string
	root   string
}

func NewS3Source(cfg config.RemoteConfig) (*S3Source, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}

	// For MinIO and other S3 compatible servers
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return &S3Source{
		client: s3.New(sess),
		bucket: cfg.Bucket,
		root:   strings.Trim(cfg.Root, "/"),
	}, nil
}

func (s *S3Source) key(name string) string {
	return strings.TrimPrefix(path.Join(s.root, name), "/")
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
		return true
	}
	var reqErr awserr.RequestFailure
	return errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound
}

func (s *S3Source) List(ctx context.Context, dir string) ([]Entry, error) {
	prefix := s.key(dir)
	if prefix != "" {
		prefix += "/"
	}

	var entries []Entry
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, cp := range page.CommonPrefixes {
			entries = append(entries, Entry{Name: path.Base(aws.StringValue(cp.Prefix)), IsDir: true})
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.StringValue(obj.Key), prefix)
			if name == "" {
				continue
			}
			entries = append(entries, Entry{
				Name:    name,
				Size:    aws.Int64Value(obj.Size),
				ModTime: aws.TimeValue(obj.LastModified),
			})
		}
		return true
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, dir)
		}
		return nil, fmt.Errorf("failed to list s3://%s/%s: %w", s.bucket, prefix, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, dir)
	}
	return entries, nil
}

func (s *S3Source) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
		}
		return nil, fmt.Errorf("failed to get %s: %w", name, err)
	}
	return out.Body, nil
}

func (s *S3Source) Stat(ctx context.Context, name string) (Entry, error) {
	out, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return Entry{}, fmt.Errorf("%w: %s", ErrNotExist, name)
		}
		return Entry{}, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	return Entry{
		Name:    path.Base(name),
		Size:    aws.Int64Value(out.ContentLength),
		ModTime: aws.TimeValue(out.LastModified),
	}, nil
}

func (s *S3Source) Close() error { return nil }
