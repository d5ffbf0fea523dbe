package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// downloadExpiry bounds how long an exported archive link stays valid
const downloadExpiry = 24 * time.Hour

// Archiver is the interface for audit archive storage
type Archiver interface {
	ArchiveJSON(ctx context.Context, objectName string, payload interface{}) (string, error)
}

// MinIOArchiver implements Archiver using MinIO. Audit exports are private
// objects; the returned URL is presigned and expires.
type MinIOArchiver struct {
	client *minio.Client
	bucket string
}

// Config holds MinIO connection configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMinIO creates a new MinIO archiver
func NewMinIO(cfg Config) (*MinIOArchiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MinIO: %w", err)
	}

	// Ensure bucket exists
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		log.Printf("📦 Created MinIO bucket: %s", cfg.Bucket)
	}

	return &MinIOArchiver{client: client, bucket: cfg.Bucket}, nil
}

// ArchiveJSON uploads the payload as a JSON object and returns a presigned
// download URL
func (s *MinIOArchiver) ArchiveJSON(ctx context.Context, objectName string, payload interface{}) (string, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode archive: %w", err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload archive: %w", err)
	}

	url, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, downloadExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign archive url: %w", err)
	}
	return url.String(), nil
}
