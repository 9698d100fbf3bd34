// SPDX-License-Identifier: MPL-2.0

package metadata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DefaultS3Prefix is the key prefix deployments publish stack metadata under.
const DefaultS3Prefix = "stackMetadata/"

type (
	// S3Config configures an S3Source.
	S3Config struct {
		// Endpoint is the S3 host without scheme. Empty means the regional
		// AWS endpoint.
		Endpoint string
		Bucket   string
		// Prefix is the key prefix; DefaultS3Prefix when empty.
		Prefix string
		Region string
		App    string
		Stage  string

		AccessKeyID     string
		SecretAccessKey string
		SessionToken    string
		// Insecure disables TLS, for local S3-compatible servers.
		Insecure bool
	}

	// S3Source reads stack files published to an S3 bucket under
	// "<prefix>app.<app>/stage.<stage>/stack.<name>.json".
	S3Source struct {
		store  objectStore
		prefix string
	}

	// objectStore is the slice of the S3 API S3Source needs.
	objectStore interface {
		List(ctx context.Context, prefix string) ([]string, error)
		Get(ctx context.Context, key string) (io.ReadCloser, error)
	}

	minioStore struct {
		client *minio.Client
		bucket string
	}
)

// Validate checks the fields required to reach the bucket.
func (c S3Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("metadata bucket is required")
	}
	if strings.TrimSpace(c.App) == "" || strings.TrimSpace(c.Stage) == "" {
		return errors.New("app and stage are required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}

// StagePrefix returns the key prefix holding the stage's stack files.
func (c S3Config) StagePrefix() string {
	prefix := c.Prefix
	if prefix == "" {
		prefix = DefaultS3Prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + "app." + c.App + "/stage." + c.Stage + "/"
}

// NewS3Source creates an S3Source backed by a minio client.
func NewS3Source(cfg S3Config) (*S3Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "s3." + cfg.Region + ".amazonaws.com"
		if cfg.Region == "" {
			endpoint = "s3.amazonaws.com"
		}
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		Secure: !cfg.Insecure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	return newS3Source(&minioStore{client: client, bucket: cfg.Bucket}, cfg.StagePrefix()), nil
}

func newS3Source(store objectStore, prefix string) *S3Source {
	return &S3Source{store: store, prefix: prefix}
}

// FetchAll lists the stage prefix and decodes every stack file under it.
func (s *S3Source) FetchAll(ctx context.Context) (map[string][]Record, error) {
	keys, err := s.store.List(ctx, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", s.prefix, err)
	}

	out := make(map[string][]Record, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, stackFileExt) {
			continue
		}
		body, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("get %q: %w", key, err)
		}
		records, err := decodeStack(body)
		body.Close() //nolint:errcheck // read-only body
		if err != nil {
			return nil, fmt.Errorf("decode %q: %w", key, err)
		}
		out[StackNameFromFile(path.Base(key))] = records
	}
	return out, nil
}

func (m *minioStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (m *minioStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
}
