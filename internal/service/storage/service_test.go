package storage

import (
	"context"
	"errors"
	"io"
	"net/url"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/meghabhansali2911/customer-engagement-platform/internal/domain"
)

type MockObjectStore struct {
	mock.Mock
}

func (m *MockObjectStore) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	args := m.Called(ctx, bucketName)
	return args.Bool(0), args.Error(1)
}

func (m *MockObjectStore) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	args := m.Called(ctx, bucketName, opts)
	return args.Error(0)
}

func (m *MockObjectStore) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	args := m.Called(ctx, bucketName, objectName, reader, objectSize, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *MockObjectStore) PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error) {
	args := m.Called(ctx, bucketName, objectName, expires, reqParams)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*url.URL), args.Error(1)
}

func newTestService(t *testing.T, store *MockObjectStore) *Service {
	t.Helper()
	store.On("BucketExists", mock.Anything, "call-files").Return(true, nil).Once()
	svc, err := NewService(store, "call-files", time.Hour, nil)
	require.NoError(t, err)
	return svc
}

func TestNewServiceCreatesMissingBucket(t *testing.T) {
	store := new(MockObjectStore)
	store.On("BucketExists", mock.Anything, "call-files").Return(false, nil)
	store.On("MakeBucket", mock.Anything, "call-files", mock.Anything).Return(nil)

	svc, err := NewService(store, "call-files", time.Hour, nil)
	require.NoError(t, err)
	assert.NotNil(t, svc)
	store.AssertExpectations(t)
}

func TestUploadStoresAndPresigns(t *testing.T) {
	store := new(MockObjectStore)
	svc := newTestService(t, store)

	link, _ := url.Parse("http://minio/call-files/uploads/contract.pdf")
	store.On("PutObject", mock.Anything, "call-files", mock.MatchedBy(func(key string) bool {
		return len(key) > len("uploads/") && key[:8] == "uploads/"
	}), mock.Anything, int64(9), mock.AnythingOfType("minio.PutObjectOptions")).
		Return(minio.UploadInfo{}, nil)
	store.On("PresignedGetObject", mock.Anything, "call-files", mock.AnythingOfType("string"), time.Hour, url.Values(nil)).
		Return(link, nil)

	ref, err := svc.Upload(context.Background(), []byte("pdf-bytes"), "contract.pdf")
	require.NoError(t, err)
	assert.Equal(t, "contract.pdf", ref.Name)
	assert.Equal(t, link.String(), ref.URL)
	store.AssertExpectations(t)
}

func TestUploadWrapsStoreFailure(t *testing.T) {
	store := new(MockObjectStore)
	svc := newTestService(t, store)

	store.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, errors.New("connection refused"))

	_, err := svc.Upload(context.Background(), []byte("x"), "a.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpload)
}

func TestUploadRejectsEmptyFilename(t *testing.T) {
	store := new(MockObjectStore)
	svc := newTestService(t, store)

	_, err := svc.Upload(context.Background(), []byte("x"), "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "passport_scan.jpg", sanitizeFilename("../../etc/passport scan.jpg"))
	assert.Equal(t, "doc.pdf", sanitizeFilename("C:\\Users\\jane\\doc.pdf"))
	assert.Equal(t, "", sanitizeFilename("."))
}
