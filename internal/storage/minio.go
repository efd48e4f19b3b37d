package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ras-rm/auth-service/config"
)

// MinioBackend archives reports in an S3-compatible bucket.
type MinioBackend struct {
	client *minio.Client
	bucket string
}

// NewMinioBackend builds a client with static credentials.
func NewMinioBackend(cfg config.MinioConfig) (*MinioBackend, error) {
	switch {
	case strings.TrimSpace(cfg.Endpoint) == "":
		return nil, errors.New("MINIO_ENDPOINT is required for the minio report backend")
	case strings.TrimSpace(cfg.AccessKey) == "", strings.TrimSpace(cfg.SecretKey) == "":
		return nil, errors.New("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required for the minio report backend")
	case strings.TrimSpace(cfg.Bucket) == "":
		return nil, errors.New("MINIO_BUCKET is required for the minio report backend")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinioBackend{client: client, bucket: cfg.Bucket}, nil
}

func (m *MinioBackend) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil || exists {
		return err
	}
	err = m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{})
	switch minio.ToErrorResponse(err).Code {
	case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
		return nil
	}
	return err
}

// Write uploads obj unless an object with the same key already exists.
func (m *MinioBackend) Write(ctx context.Context, obj Object) error {
	_, err := m.client.StatObject(ctx, m.bucket, obj.Key, minio.StatObjectOptions{})
	if err == nil {
		return fmt.Errorf("%w: %s", ErrReportExists, obj.Key)
	}
	if minio.ToErrorResponse(err).StatusCode != http.StatusNotFound {
		return err
	}

	info, err := m.client.PutObject(ctx, m.bucket, obj.Key, bytes.NewReader(obj.Body), int64(len(obj.Body)), minio.PutObjectOptions{
		ContentType:  obj.ContentType,
		UserMetadata: obj.Metadata,
	})
	if err != nil {
		return err
	}
	if info.Size != int64(len(obj.Body)) {
		return fmt.Errorf("minio stored %d of %d bytes for %s", info.Size, len(obj.Body), obj.Key)
	}
	return nil
}

func (m *MinioBackend) Bucket() string {
	return m.bucket
}

func (m *MinioBackend) Close() error {
	return nil
}
