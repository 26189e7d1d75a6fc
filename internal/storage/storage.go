package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spec-kit/support-desk/internal/config"
)

// ErrForeignURL is returned when a URL was not issued by the storage instance.
var ErrForeignURL = errors.New("storage: url not issued by this storage")

// ObjectStorage stores attachment bytes and hands out public URLs for them.
type ObjectStorage interface {
	// Upload writes data under key and returns its public URL once stored.
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
	// Download returns the bytes behind a URL previously returned by Upload.
	Download(ctx context.Context, url string) ([]byte, error)
	// Owns reports whether url points into this storage.
	Owns(url string) bool
}

// New builds the driver selected by cfg.
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStorage, error) {
	switch cfg.Driver {
	case config.StorageS3:
		return NewS3Storage(ctx, cfg)
	case config.StorageLocal, "":
		return NewLocalStorage(cfg.LocalDir, cfg.PublicBaseURL)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}

// keyFromURL strips base from url, rejecting anything outside it.
func keyFromURL(base, url string) (string, error) {
	prefix := base + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", ErrForeignURL
	}
	key := strings.TrimPrefix(url, prefix)
	if key == "" || strings.Contains(key, "..") {
		return "", ErrForeignURL
	}
	return key, nil
}
