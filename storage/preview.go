// Package storage mirrors published previews to a MinIO/S3 bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"caff_back/config"
)

const (
	previewPrefix      = "previews"
	previewContentType = "image/gif"
	defaultPresignTTL  = 15 * time.Minute
)

// Config describes the bucket connection.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
	Region    string
	Transport http.RoundTripper
}

// ConfigFromSettings picks the MINIO_* values out of settings.
func ConfigFromSettings(s config.Settings) Config {
	return Config{
		Endpoint:  s.MinioEndpoint,
		AccessKey: s.MinioAccessKey,
		SecretKey: s.MinioSecretKey,
		Bucket:    s.MinioBucket,
		UseSSL:    s.MinioUseSSL,
		PublicURL: s.MinioPublicURL,
	}
}

// PreviewStorage stores preview GIFs as previews/<id>.gif.
type PreviewStorage struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewPreviewStorage connects to the bucket, creating it when missing. It
// returns nil without error when the configuration is incomplete.
func NewPreviewStorage(ctx context.Context, cfg Config) (*PreviewStorage, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	accessKey := strings.TrimSpace(cfg.AccessKey)
	secretKey := strings.TrimSpace(cfg.SecretKey)
	bucket := strings.TrimSpace(cfg.Bucket)
	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		return nil, nil
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(checkCtx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(checkCtx, bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	publicURL := strings.TrimSpace(cfg.PublicURL)
	if publicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s", scheme, endpoint)
	}

	return &PreviewStorage{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

// ObjectName is the key of a collection's preview.
func ObjectName(collectionID uint64) string {
	return path.Join(previewPrefix, strconv.FormatUint(collectionID, 10)+".gif")
}

// Upload copies the published file at localPath into the bucket.
func (s *PreviewStorage) Upload(ctx context.Context, collectionID uint64, localPath string) error {
	if s == nil || s.client == nil {
		return errors.New("preview storage not configured")
	}

	uploadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := s.client.FPutObject(uploadCtx, s.bucket, ObjectName(collectionID), localPath, minio.PutObjectOptions{
		ContentType:  previewContentType,
		CacheControl: "public, max-age=604800",
	})
	if err != nil {
		return fmt.Errorf("upload preview %d: %w", collectionID, err)
	}
	return nil
}

// Remove deletes a collection's preview object.
func (s *PreviewStorage) Remove(ctx context.Context, collectionID uint64) error {
	if s == nil || s.client == nil {
		return nil
	}

	removeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.client.RemoveObject(removeCtx, s.bucket, ObjectName(collectionID), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove preview %d: %w", collectionID, err)
	}
	return nil
}

// PublicURL is the unsigned address of a collection's preview.
func (s *PreviewStorage) PublicURL(collectionID uint64) string {
	if s == nil {
		return ""
	}
	return fmt.Sprintf("%s/%s/%s", s.publicURL, s.bucket, ObjectName(collectionID))
}

// PresignedURL returns a temporary URL for a collection's preview.
func (s *PreviewStorage) PresignedURL(ctx context.Context, collectionID uint64, expiry time.Duration) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("preview storage not configured")
	}
	if expiry <= 0 {
		expiry = defaultPresignTTL
	}

	presignCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	u, err := s.client.PresignedGetObject(presignCtx, s.bucket, ObjectName(collectionID), expiry, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
