package storage

import (
	"context"
	"encoding/base64"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sightings/internal/config"
)

type mockPutter struct {
	mock.Mock
	bodies [][]byte
}

func (m *mockPutter) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	body, _ := io.ReadAll(r)
	m.bodies = append(m.bodies, body)
	args := m.Called(ctx, bucket, key, size, opts)
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size}, args.Error(0)
}

func testStorageConfig() config.StorageConfig {
	return config.StorageConfig{Bucket: "sightings", Region: "us-east-1", Prefix: "maritime-images/"}
}

func newTestUploader(p ObjectPutter, cfg config.StorageConfig) *Uploader {
	u := NewUploader(p, cfg)
	u.retry.InitialBackoff = time.Millisecond
	u.retry.MaxBackoff = time.Millisecond
	return u
}

func TestUploadBase64(t *testing.T) {
	payload := []byte("\x89PNG fake image bytes")
	encoded := base64.StdEncoding.EncodeToString(payload)

	tests := []struct {
		name        string
		data        string
		wantExt     string
		wantContent string
	}{
		{name: "png", data: "data:image/png;base64," + encoded, wantExt: ".png", wantContent: "image/png"},
		{name: "gif", data: "data:image/gif;base64," + encoded, wantExt: ".gif", wantContent: "image/gif"},
		{name: "jpeg", data: "data:image/jpeg;base64," + encoded, wantExt: ".jpg", wantContent: "image/jpeg"},
		{name: "unknown_type", data: "data:image/webp;base64," + encoded, wantExt: ".jpg", wantContent: "image/jpeg"},
		{name: "no_header", data: encoded, wantExt: ".jpg", wantContent: "image/jpeg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockPutter{}
			p.On("PutObject", mock.Anything, "sightings",
				mock.MatchedBy(func(key string) bool {
					return strings.HasPrefix(key, "maritime-images/") && strings.HasSuffix(key, tt.wantExt)
				}),
				int64(len(payload)),
				mock.MatchedBy(func(o minio.PutObjectOptions) bool {
					return o.ContentType == tt.wantContent && o.UserMetadata["x-amz-acl"] == "public-read"
				}),
			).Return(nil)

			url, err := newTestUploader(p, testStorageConfig()).UploadBase64(context.Background(), tt.data)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(url, "https://sightings.s3.us-east-1.amazonaws.com/maritime-images/"))
			assert.True(t, strings.HasSuffix(url, tt.wantExt))
			require.Len(t, p.bodies, 1)
			assert.Equal(t, payload, p.bodies[0])
			p.AssertExpectations(t)
		})
	}
}

func TestUploadBase64PublicBaseURL(t *testing.T) {
	p := &mockPutter{}
	p.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	cfg := testStorageConfig()
	cfg.PublicBaseURL = "https://cdn.example.com/"
	url, err := newTestUploader(p, cfg).UploadBase64(context.Background(), base64.StdEncoding.EncodeToString([]byte("x")))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "https://cdn.example.com/maritime-images/"))
}

func TestUploadBase64InvalidData(t *testing.T) {
	p := &mockPutter{}
	_, err := newTestUploader(p, testStorageConfig()).UploadBase64(context.Background(), "data:image/png;base64,!!!not-base64")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidImage)
	p.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUploadBase64RetriesTransient(t *testing.T) {
	p := &mockPutter{}
	p.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(minio.ErrorResponse{StatusCode: 503, Code: "SlowDown"}).Once()
	p.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	url, err := newTestUploader(p, testStorageConfig()).UploadBase64(context.Background(), base64.StdEncoding.EncodeToString([]byte("x")))
	require.NoError(t, err)
	assert.NotEmpty(t, url)
	p.AssertNumberOfCalls(t, "PutObject", 2)
	// Each attempt sends the full body.
	assert.Equal(t, []byte("x"), p.bodies[1])
}

func TestUploadBase64PermanentFailure(t *testing.T) {
	p := &mockPutter{}
	p.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(minio.ErrorResponse{StatusCode: 403, Code: "AccessDenied"})

	_, err := newTestUploader(p, testStorageConfig()).UploadBase64(context.Background(), base64.StdEncoding.EncodeToString([]byte("x")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage: put maritime-images/")
	p.AssertNumberOfCalls(t, "PutObject", 1)
}

func TestUploadBase64TransportFailureExhausts(t *testing.T) {
	p := &mockPutter{}
	p.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(eris.New("dial tcp: connection refused"))

	_, err := newTestUploader(p, testStorageConfig()).UploadBase64(context.Background(), base64.StdEncoding.EncodeToString([]byte("x")))
	require.Error(t, err)
	p.AssertNumberOfCalls(t, "PutObject", 3)
}

func TestIsDataURI(t *testing.T) {
	assert.True(t, IsDataURI("data:image/png;base64,AAAA"))
	assert.False(t, IsDataURI("http://x/y.jpg"))
	assert.False(t, IsDataURI("data:text/plain,hello"))
}
