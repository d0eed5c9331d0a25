// Package local implements the filesystem storage backend. It suits development and
// single-node deployments; several instances would need a shared volume. Objects are
// served by the API under /uploads/ when serve_directly is enabled, otherwise by the
// reverse proxy in front of it.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cadogy/cadogy-backend/internal/config"
	"github.com/cadogy/cadogy-backend/internal/storage"
)

func init() {
	storage.Register("local", func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Storage.Local, cfg.Server.GetPublicURL())
	})
}

// LocalStorage implements storage.Storage on a directory
type LocalStorage struct {
	basePath string
	baseURL  string
}

// New creates the base directory when missing. publicURL is the site URL; objects are
// addressed as <publicURL>/uploads/<key>.
func New(cfg *config.LocalStorageConfig, publicURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(cfg.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	abs, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage directory: %w", err)
	}
	return &LocalStorage{
		basePath: abs,
		baseURL:  strings.TrimRight(publicURL, "/") + "/uploads",
	}, nil
}

// resolve maps key to a file inside basePath, rejecting keys that escape it
func (s *LocalStorage) resolve(key string) (string, error) {
	full := filepath.Join(s.basePath, filepath.FromSlash(key))
	if full == s.basePath || !strings.HasPrefix(full, s.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return full, nil
}

// Put writes the object, hashing while writing
func (s *LocalStorage) Put(ctx context.Context, key string, r io.Reader, contentType string) (*storage.Object, error) {
	full, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(full)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(file, hasher), r)
	if err != nil {
		_ = os.Remove(full)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	return &storage.Object{
		Key:         key,
		URL:         s.URL(key),
		ContentType: contentType,
		Size:        written,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
		UpdatedAt:   time.Now().UTC(),
	}, nil
}

// Open returns the file for serving
func (s *LocalStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	full, err := s.resolve(key)
	if err != nil {
		return nil, storage.ErrNotFound
	}
	file, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete removes the file and any directories left empty
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	full, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	for dir := filepath.Dir(full); dir != s.basePath; dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break
		}
	}
	return nil
}

// URL implements storage.Storage
func (s *LocalStorage) URL(key string) string {
	return s.baseURL + "/" + key
}
