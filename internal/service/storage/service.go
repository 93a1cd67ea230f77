// Package storage persists shared call files in object storage and hands out
// time-limited download links.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/meghabhansali2911/customer-engagement-platform/internal/call/collab"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/domain"
)

// ObjectStore is the slice of the MinIO client the service uses
type ObjectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// UploadMetrics receives upload counters. Satisfied by pkg/metrics.
type UploadMetrics interface {
	RecordUpload(status string, size int64)
}

// Service handles file storage operations
type Service struct {
	store   ObjectStore
	bucket  string
	urlTTL  time.Duration
	metrics UploadMetrics // may be nil
}

// NewClient creates a MinIO client for the given endpoint
func NewClient(endpoint, accessKey, secretKey string, secure bool) (*minio.Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return client, nil
}

// NewService creates a storage service, ensuring the bucket exists.
// metrics may be nil.
func NewService(store ObjectStore, bucket string, urlTTL time.Duration, metrics UploadMetrics) (*Service, error) {
	ctx := context.Background()
	exists, err := store.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := store.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Service{
		store:   store,
		bucket:  bucket,
		urlTTL:  urlTTL,
		metrics: metrics,
	}, nil
}

// Put stores a file stream and returns its name and a presigned download
// link. The object key is prefixed with the upload instant so the same
// filename shared twice never collides.
func (s *Service) Put(ctx context.Context, r io.Reader, size int64, filename string) (collab.FileRef, error) {
	name := sanitizeFilename(filename)
	if name == "" {
		return collab.FileRef{}, fmt.Errorf("%w: empty filename", domain.ErrValidation)
	}
	objectKey := fmt.Sprintf("uploads/%d-%s", time.Now().UnixMilli(), name)

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.store.PutObject(ctx, s.bucket, objectKey, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		s.recordUpload("error", 0)
		return collab.FileRef{}, fmt.Errorf("%w: %v", domain.ErrUpload, err)
	}

	downloadURL, err := s.store.PresignedGetObject(ctx, s.bucket, objectKey, s.urlTTL, nil)
	if err != nil {
		s.recordUpload("error", 0)
		return collab.FileRef{}, fmt.Errorf("%w: failed to presign download: %v", domain.ErrUpload, err)
	}

	s.recordUpload("success", size)
	return collab.FileRef{Name: name, URL: downloadURL.String()}, nil
}

// Upload stores an in-memory file. It satisfies the collaboration peer's
// uploader contract.
func (s *Service) Upload(ctx context.Context, data []byte, filename string) (collab.FileRef, error) {
	return s.Put(ctx, bytes.NewReader(data), int64(len(data)), filename)
}

func (s *Service) recordUpload(status string, size int64) {
	if s.metrics != nil {
		s.metrics.RecordUpload(status, size)
	}
}

// sanitizeFilename reduces a client-supplied name to a safe object key part
func sanitizeFilename(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return strings.ReplaceAll(name, " ", "_")
}
