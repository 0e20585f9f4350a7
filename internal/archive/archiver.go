// Package archive provides S3-compatible long-term storage for uploaded
// evidence photos. When the archive is not configured (empty bucket), the
// NoopArchiver is used and photos live only on the portal server.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sethvargo/go-retry"

	"github.com/fieldworks/fieldsync/internal/config"
	"github.com/fieldworks/fieldsync/internal/types"
)

// ErrNotConfigured is returned when archive storage is not configured.
var ErrNotConfigured = errors.New("archive storage not configured")

// Archiver stores a durable copy of an uploaded photo.
type Archiver interface {
	// Archive writes the photo bytes to the archive bucket.
	Archive(ctx context.Context, photo *types.OfflinePhoto) error

	// PresignedURL returns a pre-signed GET URL for an archived photo.
	// Returns ErrNotConfigured when the archive is not configured.
	PresignedURL(ctx context.Context, photo *types.OfflinePhoto) (string, error)
}

// objectPutter defines the minimal minio.Client operations used by S3Archiver.
// This interface enables testing with mock implementations.
type objectPutter interface {
	PutObject(ctx context.Context, bucket, key string, body []byte, contentType string) error
	PresignedGetObject(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
}

// minioClientWrapper wraps *minio.Client to satisfy the objectPutter
// interface. Necessary because minio.Client methods take concrete option
// types that differ from our simplified surface.
type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) PutObject(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	_, err := w.client.PutObject(ctx, bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: contentType})
	return err
}

func (w *minioClientWrapper) PresignedGetObject(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	u, err := w.client.PresignedGetObject(ctx, bucket, key, expiry, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// S3Archiver writes photos to S3-compatible storage with bounded retries.
type S3Archiver struct {
	client    objectPutter
	bucket    string
	urlExpiry time.Duration
}

// Archive uploads the photo bytes under {application_id}/photos/{photo_id}.jpg.
// Transient failures are retried with fibonacci backoff, at most five attempts.
func (a *S3Archiver) Archive(ctx context.Context, photo *types.OfflinePhoto) error {
	key := objectKey(photo)

	backoff := retry.WithMaxRetries(4, retry.NewFibonacci(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := a.client.PutObject(ctx, a.bucket, key, photo.Blob, "image/jpeg"); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("archive photo %s: %w", photo.ID, err)
	}

	slog.Info("photo archived",
		"photo_id", photo.ID,
		"key", key,
		"size_bytes", len(photo.Blob),
		"component", "archive",
	)
	return nil
}

// PresignedURL returns a pre-signed GET URL for the archived photo.
func (a *S3Archiver) PresignedURL(ctx context.Context, photo *types.OfflinePhoto) (string, error) {
	u, err := a.client.PresignedGetObject(ctx, a.bucket, objectKey(photo), a.urlExpiry)
	if err != nil {
		return "", fmt.Errorf("generate pre-signed URL: %w", err)
	}
	return u, nil
}

// NoopArchiver is used when archive storage is not configured.
type NoopArchiver struct{}

// Archive is a no-op when the archive is not configured.
func (NoopArchiver) Archive(ctx context.Context, photo *types.OfflinePhoto) error {
	return nil
}

// PresignedURL returns ErrNotConfigured when the archive is not configured.
func (NoopArchiver) PresignedURL(ctx context.Context, photo *types.OfflinePhoto) (string, error) {
	return "", ErrNotConfigured
}

// NewArchiver creates the appropriate Archiver based on configuration.
// Returns NoopArchiver when bucket is empty, S3Archiver otherwise.
func NewArchiver(cfg config.ArchiveConfig) (Archiver, error) {
	if cfg.Bucket == "" {
		return NoopArchiver{}, nil
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create archive client: %w", err)
	}

	return &S3Archiver{
		client:    &minioClientWrapper{client: client},
		bucket:    cfg.Bucket,
		urlExpiry: 15 * time.Minute,
	}, nil
}

// objectKey returns the archive key for a photo.
// Convention: {application_id}/photos/{photo_id}.jpg
func objectKey(photo *types.OfflinePhoto) string {
	return photo.ApplicationID + "/photos/" + photo.ID + ".jpg"
}
