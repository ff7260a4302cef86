package llmcache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalStorage stores each entry as <dir>/<category>/<key>.json.
type LocalStorage struct {
	dir string
}

func NewLocalStorage(dir string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory %s: %w", dir, err)
	}
	return &LocalStorage{dir: dir}, nil
}

func (s *LocalStorage) path(category, key string) string {
	return filepath.Join(s.dir, category, key+".json")
}

func (s *LocalStorage) Get(ctx context.Context, category, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(category, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// Set writes through a temporary file and rename so readers never observe a
// partial entry.
func (s *LocalStorage) Set(ctx context.Context, category, key string, data []byte) error {
	dir := filepath.Join(s.dir, category)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, key+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path(category, key))
}

func (s *LocalStorage) List(ctx context.Context, category string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, category))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *LocalStorage) Delete(ctx context.Context, category, key string) error {
	err := os.Remove(s.path(category, key))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}
