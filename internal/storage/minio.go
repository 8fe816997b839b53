package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/signage/internal/config"
)

// SnapshotStore persists inbound frame images to MinIO. The image field is
// stripped from every payload before downstream use; this store is the one
// place that may look at it first.
type SnapshotStore struct {
	client *minio.Client
	bucket string
}

func NewSnapshotStore(cfg config.SnapshotsConfig) (*SnapshotStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &SnapshotStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *SnapshotStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

// SaveSnapshot decodes a base64 frame image and stores it under
// snapshots/<owner>/<timestamp>.jpg. Owner is the resolved player id, or
// the camera id when the frame is unresolved.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, owner string, timestamp int64, imgBase64 string) error {
	if owner == "" {
		owner = "unknown"
	}

	data, err := base64.StdEncoding.DecodeString(imgBase64)
	if err != nil {
		return fmt.Errorf("decode snapshot image: %w", err)
	}

	key := fmt.Sprintf("snapshots/%s/%d.jpg", owner, timestamp)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "image/jpeg",
	})
	if err != nil {
		return fmt.Errorf("put snapshot %s: %w", key, err)
	}
	return nil
}

func (s *SnapshotStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
