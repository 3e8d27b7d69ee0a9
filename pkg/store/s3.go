package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	regionDefault      = "us-east-1"
	largeObjectMinSize = 10 * 1024 * 1024
)

// S3Config configures an S3 compatible bucket (AWS, MinIO, GCS interop).
type S3Config struct {
	Bucket string
	// "http://127.0.0.1:9000", empty for AWS
	HostEndpointURL string
	// "us-east-1"
	Region    string
	AccessKey string
	SecretKey string
}

type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Store keeps objects in a single S3 bucket.
type S3Store struct {
	bucket   string
	api      objectAPI
	uploader uploader
}

// NewS3Store connects to the bucket described by cfg.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("s3 access key and secret key required")
	}
	if cfg.Region == "" {
		cfg.Region = regionDefault
	}

	client := s3.NewFromConfig(aws.Config{Region: cfg.Region}, func(o *s3.Options) {
		if cfg.HostEndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.HostEndpointURL)
			o.UsePathStyle = true
		}
		o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	})

	return &S3Store{
		bucket: cfg.Bucket,
		api:    client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = largeObjectMinSize
		}),
	}, nil
}

func (s *S3Store) Put(ctx context.Context, key, contentType string, data []byte) error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	if len(data) >= largeObjectMinSize && s.uploader != nil {
		if _, err := s.uploader.Upload(ctx, in); err != nil {
			return fmt.Errorf("uploading large object %s to bucket %s: %w", key, s.bucket, err)
		}
	} else {
		if _, err := s.api.PutObject(ctx, in); err != nil {
			return fmt.Errorf("putting object %s to bucket %s: %w", key, s.bucket, err)
		}
	}

	slog.Debug("object stored", "bucket", s.bucket, "key", key, "size", len(data))
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("getting object %s from bucket %s: %w", key, s.bucket, err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading object %s body: %w", key, err)
	}
	return b, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	if _, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("deleting object %s from bucket %s: %w", key, s.bucket, err)
	}
	return nil
}
