package position

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Store persists the position document as a single JSON object in an
// S3/MinIO bucket, for containerized runs with no durable filesystem.
type S3Store struct {
	client *minio.Client
	config S3Config
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]Position
}

// S3Config holds configuration for the S3/MinIO position store.
type S3Config struct {
	// Endpoint is the S3/MinIO endpoint (e.g. "localhost:9000").
	Endpoint string

	// AccessKey is the access key.
	AccessKey string

	// SecretKey is the secret key.
	SecretKey string

	// UseSSL enables SSL for the connection.
	UseSSL bool

	// Region is the S3 region (optional for MinIO).
	Region string

	// Bucket is the bucket holding the position document.
	Bucket string

	// Key is the object key of the position document.
	Key string
}

// DefaultS3Config returns an S3Config with sensible defaults.
func DefaultS3Config() S3Config {
	return S3Config{
		Endpoint: "localhost:9000",
		Bucket:   "hermes",
		Key:      "positions.json",
	}
}

// NewS3Store creates a new S3/MinIO position store.
func NewS3Store(cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &S3Store{
		client: client,
		config: cfg,
		logger: logger.With("component", "position-store", "backend", "s3", "bucket", cfg.Bucket),
	}, nil
}

// Load retrieves the position document. A missing object yields an
// empty map, not an error.
func (s *S3Store) Load(ctx context.Context) (map[string]Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, err := s.client.GetObject(ctx, s.config.Bucket, s.config.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get position object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NoSuchBucket" {
			s.cache = map[string]Position{}
			return map[string]Position{}, nil
		}
		return nil, fmt.Errorf("read position object: %w", err)
	}

	positions := map[string]Position{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &positions); err != nil {
			return nil, fmt.Errorf("parse position object: %w", err)
		}
	}

	s.cache = make(map[string]Position, len(positions))
	for id, pos := range positions {
		s.cache[id] = pos
	}

	return positions, nil
}

// Save updates the position for streamID and rewrites the object.
func (s *S3Store) Save(ctx context.Context, streamID string, pos Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache == nil {
		s.cache = map[string]Position{}
	}
	s.cache[streamID] = pos

	if err := s.write(ctx); err != nil {
		return err
	}

	s.logger.Debug("position saved",
		"stream", streamID,
		"value", pos.ReplicationKeyValue,
	)
	return nil
}

// Delete removes the position for streamID and rewrites the object.
func (s *S3Store) Delete(ctx context.Context, streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache == nil {
		return nil
	}
	delete(s.cache, streamID)
	return s.write(ctx)
}

// Close is a no-op; every Save already reaches object storage.
func (s *S3Store) Close() error {
	return nil
}

// write uploads the full position document. Caller holds s.mu.
func (s *S3Store) write(ctx context.Context) error {
	data, err := json.Marshal(s.cache)
	if err != nil {
		return fmt.Errorf("marshal positions: %w", err)
	}

	_, err = s.client.PutObject(ctx, s.config.Bucket, s.config.Key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)
	if err != nil {
		return fmt.Errorf("put position object: %w", err)
	}
	return nil
}

// Ensure S3Store implements Store.
var _ Store = (*S3Store)(nil)
