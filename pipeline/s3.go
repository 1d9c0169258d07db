package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/isdmx/agentbox/config"
	"github.com/isdmx/agentbox/sandbox"
)

// S3API is the subset of the S3 client used by S3Storage.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Storage keeps artifacts in an S3 (or S3-compatible) bucket. Stored
// paths have the form s3://bucket/key.
type S3Storage struct {
	client S3API
	bucket string
	prefix string
}

var _ ArtifactStorage = (*S3Storage)(nil)

func NewS3Storage(client S3API, bucket, prefix string) *S3Storage {
	return &S3Storage{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// NewS3StorageFromConfig builds the client from the default AWS credential
// chain. Endpoint and path-style addressing allow MinIO and similar stores.
func NewS3StorageFromConfig(ctx context.Context, cfg config.S3Config) (*S3Storage, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3Storage(client, cfg.Bucket, cfg.Prefix), nil
}

func (*S3Storage) Backend() StorageBackend { return StorageS3 }

func (s *S3Storage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	objectKey := path.Join(s.prefix, path.Clean("/" + key)[1:])

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
		Body:   r,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", sandbox.NewError(sandbox.KindArtifactTransfer, "store_artifact", "failed to upload "+objectKey, err)
	}
	return "s3://" + s.bucket + "/" + objectKey, nil
}

func (s *S3Storage) Open(ctx context.Context, storedPath string) (io.ReadCloser, error) {
	bucket, key, ok := strings.Cut(strings.TrimPrefix(storedPath, "s3://"), "/")
	if !ok || !strings.HasPrefix(storedPath, "s3://") || key == "" {
		return nil, sandbox.InvalidRequest("open_artifact", fmt.Sprintf("invalid s3 path %q", storedPath))
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, sandbox.NewError(sandbox.KindArtifactNotFound, "open_artifact", storedPath, err)
		}
		return nil, sandbox.NewError(sandbox.KindArtifactTransfer, "open_artifact", storedPath, err)
	}
	return out.Body, nil
}
