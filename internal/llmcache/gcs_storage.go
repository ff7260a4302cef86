package llmcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStorage stores entries as objects <prefix>/<category>/<key>.json in a
// Google Cloud Storage bucket.
type GCSStorage struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStorage creates a client; credentialsFile may be empty to use
// application default credentials.
func NewGCSStorage(ctx context.Context, bucket, prefix, credentialsFile string) (*GCSStorage, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSStorage{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// Close releases the client.
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

func (s *GCSStorage) object(category, key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(path.Join(s.prefix, category, key+".json"))
}

func (s *GCSStorage) Get(ctx context.Context, category, key string) ([]byte, error) {
	r, err := s.object(category, key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *GCSStorage) Set(ctx context.Context, category, key string, data []byte) error {
	w := s.object(category, key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", s.bucket, w.ObjectAttrs.Name, err)
	}
	return w.Close()
}

func (s *GCSStorage) List(ctx context.Context, category string) ([]string, error) {
	dir := path.Join(s.prefix, category) + "/"
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: dir})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		name := strings.TrimPrefix(attrs.Name, dir)
		if strings.Contains(name, "/") || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *GCSStorage) Delete(ctx context.Context, category, key string) error {
	err := s.object(category, key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ErrNotFound
	}
	return err
}
