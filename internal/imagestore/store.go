// Package imagestore provides the SaveImage capability used for
// image-generation responses: persist the bytes somewhere and hand back a
// URL a markdown block can reference.
package imagestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/yusnake/antigravity2api/internal/config"
)

// Store persists generated images.
type Store interface {
	SaveImage(data []byte, mimeType string) (string, error)
}

// New selects the backend from configuration.
func New(cfg *config.Config) (Store, error) {
	switch cfg.ImageStore {
	case config.ImageStoreLocal:
		return &localStore{dir: cfg.ImageDir}, nil
	case config.ImageStoreS3:
		return newS3Store(cfg)
	case config.ImageStoreBase64, "":
		return base64Store{}, nil
	default:
		return nil, fmt.Errorf("imagestore: unknown mode %q", cfg.ImageStore)
	}
}

// base64Store passes the image through as a data URI.
type base64Store struct{}

func (base64Store) SaveImage(data []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data)), nil
}

// localStore writes files under a directory served at /images/.
type localStore struct {
	dir string
}

func (s *localStore) SaveImage(data []byte, mimeType string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("imagestore: create dir %s: %w", s.dir, err)
	}
	name := uuid.NewString() + extensionFor(mimeType)
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("imagestore: write file: %w", err)
	}
	return "/images/" + name, nil
}

// s3Store uploads to an S3-compatible bucket via minio.
type s3Store struct {
	client     *minio.Client
	bucket     string
	publicBase string
}

func newS3Store(cfg *config.Config) (*s3Store, error) {
	if cfg.S3Endpoint == "" || cfg.S3Bucket == "" {
		return nil, fmt.Errorf("imagestore: s3 mode requires S3_ENDPOINT and S3_BUCKET")
	}
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("imagestore: init s3 client: %w", err)
	}
	publicBase := strings.TrimSuffix(cfg.S3PublicBase, "/")
	if publicBase == "" {
		scheme := "http"
		if cfg.S3UseSSL {
			scheme = "https"
		}
		publicBase = fmt.Sprintf("%s://%s/%s", scheme, cfg.S3Endpoint, cfg.S3Bucket)
	}
	return &s3Store{client: client, bucket: cfg.S3Bucket, publicBase: publicBase}, nil
}

func (s *s3Store) SaveImage(data []byte, mimeType string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	name := time.Now().UTC().Format("2006/01/02/") + uuid.NewString() + extensionFor(mimeType)
	_, err := s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("imagestore: upload: %w", err)
	}
	return s.publicBase + "/" + name, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}
