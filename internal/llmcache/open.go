package llmcache

import (
	"context"
	"fmt"
	"io"
)

// BackendOptions selects and configures a storage backend.
type BackendOptions struct {
	Backend         string // memory, local, badger, gcs
	Dir             string
	Bucket          string
	Prefix          string
	CredentialsFile string
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenStorage builds the configured backend. The returned closer releases
// backend resources.
func OpenStorage(ctx context.Context, opts BackendOptions) (Storage, io.Closer, error) {
	switch opts.Backend {
	case "memory":
		return NewMemoryStorage(), nopCloser{}, nil
	case "", "local":
		s, err := NewLocalStorage(opts.Dir)
		if err != nil {
			return nil, nil, err
		}
		return s, nopCloser{}, nil
	case "badger":
		s, err := OpenBadgerStorage(opts.Dir)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "gcs":
		s, err := NewGCSStorage(ctx, opts.Bucket, opts.Prefix, opts.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unsupported cache backend %q", opts.Backend)
	}
}
