package storage

import (
	"context"
	"fmt"
	"time"
)

// Store is the object storage used for message attachments.
type Store interface {
	Upload(ctx context.Context, bucket, path, contentType string, data []byte) error
	Remove(ctx context.Context, bucket string, paths []string) error
	CreateSignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error)
}

type Config struct {
	Driver     string
	URL        string
	ServiceKey string
	Timeout    time.Duration

	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

// New builds the store selected by Config.Driver.
func New(cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "supabase":
		return NewSupabaseStore(cfg.URL, cfg.ServiceKey, cfg.Timeout)
	case "s3":
		return NewS3Store(cfg.S3Region, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
