// Package storage uploads sighting images to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sightings/internal/config"
	"github.com/sells-group/sightings/internal/resilience"
)

// ErrInvalidImage is returned when the payload is not valid base64.
var ErrInvalidImage = eris.New("storage: image is not valid base64")

// ObjectPutter is the subset of *minio.Client used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Uploader stores base64 images and returns their public URL.
type Uploader struct {
	client  ObjectPutter
	bucket  string
	prefix  string
	baseURL string
	retry   resilience.RetryConfig
}

// NewUploader creates an Uploader backed by client.
func NewUploader(client ObjectPutter, cfg config.StorageConfig) *Uploader {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "maritime-images/"
	}
	base := strings.TrimSuffix(cfg.PublicBaseURL, "/")
	if base == "" {
		base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("storage", "put_object")
	return &Uploader{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  prefix,
		baseURL: base,
		retry:   retry,
	}
}

// NewMinio connects to the configured endpoint.
func NewMinio(cfg config.StorageConfig) (*minio.Client, error) {
	c, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "storage: connect %s", cfg.Endpoint)
	}
	return c, nil
}

// IsDataURI reports whether s is an inline base64 data URI.
func IsDataURI(s string) bool {
	return strings.HasPrefix(s, "data:") && strings.Contains(s, ";base64,")
}

// UploadBase64 decodes data, which may carry a data URI header, stores it
// under a random key and returns the object's public URL.
func (u *Uploader) UploadBase64(ctx context.Context, data string) (string, error) {
	header, encoded := "", data
	if i := strings.IndexByte(data, ','); i >= 0 {
		header, encoded = data[:i], data[i+1:]
	}
	body, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", eris.Wrap(ErrInvalidImage, err.Error())
	}

	ext, contentType := imageType(header)
	key := u.prefix + uuid.NewString() + ext

	err = resilience.Do(ctx, u.retry, func(ctx context.Context) error {
		_, putErr := u.client.PutObject(ctx, u.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
			ContentType:  contentType,
			UserMetadata: map[string]string{"x-amz-acl": "public-read"},
		})
		return classifyPut(putErr)
	})
	if err != nil {
		zap.L().Error("storage: upload failed", zap.String("key", key), zap.Error(err))
		return "", eris.Wrapf(err, "storage: put %s", key)
	}

	url := u.baseURL + "/" + key
	zap.L().Info("storage: image uploaded", zap.String("url", url), zap.Int("bytes", len(body)))
	return url, nil
}

// classifyPut marks server-side and throttling failures as transient.
func classifyPut(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == 0 || resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return resilience.NewTransientError(err, resp.StatusCode)
	}
	return err
}

// imageType maps a data URI header to a file extension and content type.
func imageType(header string) (string, string) {
	switch {
	case strings.Contains(header, "image/png"):
		return ".png", "image/png"
	case strings.Contains(header, "image/gif"):
		return ".gif", "image/gif"
	default:
		return ".jpg", "image/jpeg"
	}
}
