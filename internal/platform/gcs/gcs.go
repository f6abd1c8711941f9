// Package gcs implements blob.Store on Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/phrazzld/kcjob/internal/blob"
	"github.com/phrazzld/kcjob/internal/config"
	"google.golang.org/api/option"
)

// Store reads and writes objects in a single bucket.
type Store struct {
	client *storage.Client
	bucket string
}

var _ blob.Store = (*Store)(nil)

// ClientOptions derives client options from the storage configuration.
func ClientOptions(cfg config.StorageConfig) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	return opts
}

// New creates a client for cfg.Bucket.
func New(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	client, err := storage.NewClient(ctx, ClientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return NewWithClient(client, cfg.Bucket), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *storage.Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// Get downloads the object under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: gs://%s/%s", blob.ErrNotFound, s.bucket, key)
	}
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", s.bucket, key, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", s.bucket, key, err)
	}
	return data, nil
}

// Put uploads data under key. The object only becomes visible once Close
// succeeds.
func (s *Store) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := blob.ValidateKey(key); err != nil {
		return "", err
	}

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = blob.ContentType(key)

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write gs://%s/%s: %w", s.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize gs://%s/%s: %w", s.bucket, key, err)
	}
	return key, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
