package minioctrl

import (
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"logingest/src/apperr"
	"logingest/src/core/job"
)

type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UseSSL          bool
	Bucket          string
}

// MinioService is the S3-compatible upload store backed by minio-go.
type MinioService struct {
	client *minio.Client
	bucket string
}

func NewMinioService(cfg Config) (*MinioService, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinioService{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

func (s *MinioService) Bucket() string { return s.bucket }

func (s *MinioService) Type() job.StorageType { return job.StorageS3 }

func (s *MinioService) EnsureBucketExists(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// PresignedUploadURL returns a URL the client can PUT the object to.
func (s *MinioService) PresignedUploadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, ttl)
	if err != nil {
		return "", apperr.ErrStorage.WithMessage("Failed to generate presigned URL").Wrap(err)
	}
	return u.String(), nil
}

func (s *MinioService) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
		return false, nil
	}
	return false, apperr.ErrStorage.WithMessage("Failed to check object").Wrap(err)
}

// Ping checks that the bucket is reachable.
func (s *MinioService) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return apperr.ErrStorage.Wrap(err)
	}
	if !exists {
		return apperr.ErrStorage.WithMessage("Bucket %s does not exist", s.bucket)
	}
	return nil
}
