// File: internal/imagestore/imagestore.go
// Description: Blob storage for submitted bite photos so records and chats
// can refer back to the original image.

package imagestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bitesense/internal/config"
)

// ErrNotFound is returned when a reference does not name a stored image.
var ErrNotFound = errors.New("image not found")

// Store keeps image bytes and hands back an opaque reference.
type Store interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// New builds the configured store. The "none" backend returns a nil Store.
func New(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocal(cfg.LocalDir, logger)
	case "minio":
		return NewMinIO(ctx, cfg.MinIO, logger)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %q", cfg.Backend)
	}
}

// Local stores images as files under one directory.
type Local struct {
	dir    string
	logger *zap.Logger
}

// NewLocal creates dir if needed.
func NewLocal(dir string, logger *zap.Logger) (*Local, error) {
	if dir == "" {
		dir = "images"
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve image directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}
	return &Local{dir: abs, logger: logger.Named("imagestore.local")}, nil
}

// Put writes the image and returns its absolute path.
func (l *Local) Put(_ context.Context, name string, data []byte, _ string) (string, error) {
	path := filepath.Join(l.dir, filepath.Base(name))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to store image: %w", err)
	}
	l.logger.Debug("Stored image", zap.String("path", path), zap.Int("bytes", len(data)))
	return path, nil
}

// Get reads an image previously returned by Put. References outside the
// store directory are rejected.
func (l *Local) Get(_ context.Context, ref string) ([]byte, error) {
	path := filepath.Clean(ref)
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.dir, path)
	}
	if !strings.HasPrefix(path, l.dir+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return data, nil
}
