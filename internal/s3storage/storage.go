// Package s3storage wraps MinIO/S3 interactions for uploaded blobs.
package s3storage

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/linehaul/internal/config"
)

const (
	// Multipart tuning for unknown-length streams: memory stays bounded by
	// partSize x partThreads no matter how large the payload is.
	partSize    = 5 << 20
	partThreads = 4
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9.-]`)

// Storage wraps a MinIO client bound to one bucket.
type Storage struct {
	client *minio.Client
	bucket string
	region string
}

// UploadResult describes a completed streaming put.
type UploadResult struct {
	Key  string
	ETag string
	Size int64
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.AWSRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client: client,
		bucket: cfg.S3Bucket,
		region: cfg.AWSRegion,
	}, nil
}

// EnsureBucket makes sure the configured bucket exists before use.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// PutStream uploads a stream of unknown total length via concurrent multipart
// parts. On failure the client aborts the multipart upload, so no orphan parts
// survive an error.
func (s *Storage) PutStream(ctx context.Context, key string, r io.Reader, contentType string) (*UploadResult, error) {
	info, err := s.client.PutObject(ctx, s.bucket, key, r, -1, minio.PutObjectOptions{
		ContentType:           contentType,
		PartSize:              partSize,
		NumThreads:            partThreads,
		ConcurrentStreamParts: true,
	})
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", key, err)
	}
	return &UploadResult{Key: key, ETag: info.ETag, Size: info.Size}, nil
}

// GetStream returns a readable byte stream for the object. Reads are
// consumer-driven, so back-pressure propagates to the network.
func (s *Storage) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	// GetObject is lazy; Stat forces the first round-trip so a missing key
	// surfaces here instead of on the first read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, fmt.Errorf("stat object %s: %w", key, err)
	}
	return obj, nil
}

// KeyGen derives a unique object key from the client-supplied filename:
// uploads/<YYYY-MM-DD>/<epoch-millis>-<6-char-random>-<sanitized-name>.
func (s *Storage) KeyGen(originalName string) string {
	now := time.Now().UTC()
	return fmt.Sprintf("uploads/%s/%d-%s-%s",
		now.Format("2006-01-02"),
		now.UnixMilli(),
		randomSuffix(),
		sanitizeName(originalName),
	)
}

// Probe is a cheap reachability check against the configured bucket.
func (s *Storage) Probe(ctx context.Context) bool {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	return err == nil && exists
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "upload"
	}
	return unsafeKeyChars.ReplaceAllString(name, "_")
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}
