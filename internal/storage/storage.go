// Package storage archives sweep reports in an object store (GCS or MinIO).
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/ras-rm/auth-service/config"
)

const reportPrefix = "reports"

// ErrReportExists is returned when a report object is already stored under
// the same key. Reports are written once.
var ErrReportExists = errors.New("report already archived")

// Object is a single archived file.
type Object struct {
	Key         string
	Body        []byte
	ContentType string
	Metadata    map[string]string
}

// ObjectStorage is the subset of bucket operations the archive needs.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Write(ctx context.Context, obj Object) error
	Bucket() string
	Close() error
}

// Open builds the backend named by cfg.Backend. It returns a nil backend
// when no report backend is configured.
func Open(ctx context.Context, cfg config.ReportsConfig) (ObjectStorage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "":
		return nil, nil
	case "gcs":
		client, err := NewGCSBackend(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "minio":
		client, err := NewMinioBackend(cfg.Minio)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown report backend %q", cfg.Backend)
	}
}

// ReportArchive writes JSON sweep reports under reports/<sweep>/<time>.json.
type ReportArchive struct {
	backend ObjectStorage
}

// NewReportArchive wraps backend. The bucket is created lazily on first write.
func NewReportArchive(backend ObjectStorage) *ReportArchive {
	return &ReportArchive{backend: backend}
}

// Store encodes report and uploads it, returning the object key.
func (a *ReportArchive) Store(ctx context.Context, sweep string, at time.Time, report any) (string, error) {
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s report: %w", sweep, err)
	}
	if err := a.backend.EnsureBucket(ctx); err != nil {
		return "", fmt.Errorf("ensure bucket %s: %w", a.backend.Bucket(), err)
	}

	key := ReportKey(sweep, at)
	err = a.backend.Write(ctx, Object{
		Key:         key,
		Body:        body,
		ContentType: "application/json",
		Metadata:    map[string]string{"sweep": sweep, "taken-at": at.UTC().Format(time.RFC3339)},
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}

// ReportKey returns the object key of a sweep report taken at the given time.
func ReportKey(sweep string, at time.Time) string {
	return path.Join(reportPrefix, sweep, at.UTC().Format(time.RFC3339)+".json")
}
