package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func init() {
	Register("s3", func(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
		return NewS3(ctx, cfg, logger)
	})
}

// S3 stores objects in an S3 (or S3-compatible) bucket.
type S3 struct {
	client *s3.Client
	bucket string
	logger *slog.Logger
}

// NewS3 builds a client from the default AWS credential chain, overridden by
// static keys and a custom endpoint when configured.
func NewS3(ctx context.Context, cfg Config, logger *slog.Logger) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 object store requires a bucket")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	switch {
	case cfg.AccessKeyID != "":
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	case cfg.Anonymous:
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &S3{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Put uploads r to key. Non-seekable bodies are buffered so the SDK can
// compute the payload checksum.
func (s *S3) Put(ctx context.Context, key string, r io.Reader) error {
	k, err := CleanKey(key)
	if err != nil {
		return err
	}

	body, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("failed to buffer object: %w", err)
		}
		body = bytes.NewReader(data)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(k),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", s.URI(k), err)
	}

	s.logger.Debug("uploaded object", slog.String("uri", s.URI(k)))
	return nil
}

// Get opens the object at key.
func (s *S3) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	k, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(k),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%s: %w", s.URI(k), ErrNotExist)
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.URI(k), err)
	}
	return out.Body, nil
}

// List pages through keys under prefix.
func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var keys []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", s.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// Delete removes the object at key. S3 deletes are idempotent, so existence
// is checked first to report ErrNotExist like the other backends.
func (s *S3) Delete(ctx context.Context, key string) error {
	k, err := CleanKey(key)
	if err != nil {
		return err
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(k),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return fmt.Errorf("%s: %w", s.URI(k), ErrNotExist)
		}
		return fmt.Errorf("failed to stat %s: %w", s.URI(k), err)
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(k),
	}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", s.URI(k), err)
	}
	return nil
}

// URI returns the s3:// URI of key.
func (s *S3) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

// Close is a no-op; the SDK client holds no resources to release.
func (s *S3) Close() error { return nil }
