package upload

import (
	"context"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/onnwee/tiktok-live-recorder/events"
)

// S3 uploads recordings to an S3-compatible bucket under <user>/<filename>.
type S3 struct {
	client *minio.Client
	bucket string

	mu    sync.Mutex
	ready bool
}

// NewS3 creates a MinIO client for endpoint (host:port, no scheme).
func NewS3(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*S3, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("s3 upload needs S3_ENDPOINT")
	}
	if bucket == "" {
		bucket = "recordings"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return &S3{client: client, bucket: bucket}, nil
}

func (s *S3) Name() string { return "s3" }

// ensureBucket creates the bucket on first successful use.
func (s *S3) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	s.ready = true
	return nil
}

// objectKey is where a recording is stored inside the bucket.
func objectKey(user, file string) string {
	if user == "" {
		user = "unknown"
	}
	return path.Join(user, filepath.Base(file))
}

// Upload stores path and returns an s3:// location.
func (s *S3) Upload(ctx context.Context, filePath string, ev events.Event) (string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return "", err
	}
	key := objectKey(ev.User, filePath)
	contentType := mime.TypeByExtension(filepath.Ext(filePath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.FPutObject(ctx, s.bucket, key, filePath, minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"user":         ev.User,
			"room-id":      ev.RoomID,
			"recording-id": ev.ID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
