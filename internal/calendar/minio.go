// Package calendar publishes approved events to object storage as
// iCalendar files that external calendars can subscribe to.
package calendar

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"grievance/api/internal/store"
)

type Syncer interface {
	SyncApprovedEvent(ctx context.Context, event store.Event) error
}

type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type MinioSyncer struct {
	client objectPutter
	bucket string
}

// NewMinioSyncer connects to MinIO and creates the bucket when missing.
func NewMinioSyncer(ctx context.Context, cfg MinioConfig) (*MinioSyncer, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		slog.InfoContext(ctx, "calendar bucket created", "bucket", cfg.Bucket)
	}
	return &MinioSyncer{client: client, bucket: cfg.Bucket}, nil
}

// SyncApprovedEvent overwrites <tenant>/events/<id>.ics. Safe to retry.
func (s *MinioSyncer) SyncApprovedEvent(ctx context.Context, event store.Event) error {
	body := ICS(event)
	key := objectKey(event)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "text/calendar; charset=utf-8",
		UserMetadata: map[string]string{
			"event-id":      event.ID,
			"politician-id": event.PoliticianID,
			"starts-at":     stamp(event.StartsAt),
		},
	})
	if err != nil {
		return fmt.Errorf("put calendar object %s: %w", key, err)
	}
	return nil
}

// Disabled accepts every sync without doing anything.
type Disabled struct{}

func (Disabled) SyncApprovedEvent(context.Context, store.Event) error {
	return nil
}
