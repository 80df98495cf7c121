// Package storage signs book cover references held in object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const defaultCoverExpiry = 15 * time.Minute

// CoverConfig locates the bucket that holds cover images.
type CoverConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	Expiry    time.Duration
}

// CoverStore turns object keys into pre-signed GET URLs on MinIO/S3
// compatible storage.
type CoverStore struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// NewCoverStore builds the client without contacting the server.
func NewCoverStore(cfg CoverConfig) (*CoverStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	bucket := strings.TrimSpace(cfg.Bucket)
	if endpoint == "" || bucket == "" {
		return nil, errors.New("cover store endpoint and bucket are required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = defaultCoverExpiry
	}
	return &CoverStore{client: client, bucket: bucket, expiry: expiry}, nil
}

// CheckBucket verifies the cover bucket exists.
func (s *CoverStore) CheckBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		return fmt.Errorf("cover bucket %q does not exist", s.bucket)
	}
	return nil
}

// CoverURL returns a pre-signed URL for key.
func (s *CoverStore) CoverURL(ctx context.Context, key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("cover key is required")
	}
	params := url.Values{}
	params.Set("response-cache-control", "private, max-age=600")
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.expiry, params)
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return u.String(), nil
}
