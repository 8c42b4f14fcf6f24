// Package storage provides the blob store shared by all pipeline stages.
// Keys are POSIX-like forward-slash paths; a leading slash is stripped.
package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrNotFound reports a key with no stored object. Check with errors.Is.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is the blob store contract. Implementations are safe for
// concurrent use.
type Store interface {
	// Upload stores the reader's content under key and returns the
	// backend-native location (path or URL).
	Upload(ctx context.Context, src io.Reader, key string) (string, error)

	// Download returns the object's content.
	Download(ctx context.Context, key string) ([]byte, error)

	// DownloadTo writes the object's content to the local file at dest.
	DownloadTo(ctx context.Context, key, dest string) error

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns the objects whose keys begin with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Delete removes the object; it returns false when key was absent.
	Delete(ctx context.Context, key string) (bool, error)

	// PublicURL returns a URL for the object valid for at least ttl.
	PublicURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

func cleanKey(key string) string {
	return strings.TrimPrefix(key, "/")
}
