package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
)

// LocalStore keeps objects as files under a root directory. Uploads are
// atomic replacements, so a concurrent reader never observes a partial
// object.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", root, err)
	}
	slog.Info("local storage initialized", "path", root)
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) filePath(key string) (string, error) {
	key = cleanKey(key)
	path := filepath.Join(s.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return path, nil
}

// Upload writes the object atomically and returns its filesystem path.
func (s *LocalStore) Upload(ctx context.Context, src io.Reader, key string) (string, error) {
	path, err := s.filePath(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	defer pending.Cleanup()

	if _, err := io.Copy(pending, src); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	slog.Debug("object uploaded", "key", key, "path", path)
	return path, nil
}

// Download returns the object's content.
func (s *LocalStore) Download(ctx context.Context, key string) ([]byte, error) {
	path, err := s.filePath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("download %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	return data, nil
}

// DownloadTo copies the object to a local file.
func (s *LocalStore) DownloadTo(ctx context.Context, key, dest string) error {
	path, err := s.filePath(key)
	if err != nil {
		return err
	}
	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("download %s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("download %s: %w", key, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("download %s to %s: %w", key, dest, err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("download %s to %s: %w", key, dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("download %s to %s: %w", key, dest, err)
	}
	return nil
}

// Exists reports whether the key maps to a stored file.
func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.filePath(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return true, nil
}

// List walks the tree under prefix.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	prefix = cleanKey(prefix)
	var objects []ObjectInfo
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !matchesPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, ObjectInfo{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return objects, nil
}

// matchesPrefix matches on path-segment boundaries, so "podcasts" covers
// "podcasts/x" but not "podcasts_old/x".
func matchesPrefix(key, prefix string) bool {
	if prefix == "" || key == prefix {
		return true
	}
	if !strings.HasPrefix(key, prefix) {
		return false
	}
	return strings.HasSuffix(prefix, "/") || key[len(prefix)] == '/'
}

// Delete removes the object's file; false when it was absent.
func (s *LocalStore) Delete(ctx context.Context, key string) (bool, error) {
	path, err := s.filePath(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	slog.Debug("object deleted", "key", key)
	return true, nil
}

// PublicURL returns a file:// URL; the ttl is meaningless for local files.
func (s *LocalStore) PublicURL(ctx context.Context, key string, _ time.Duration) (string, error) {
	path, err := s.filePath(key)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("public url for %s: %w", key, err)
	}
	return "file://" + filepath.ToSlash(abs), nil
}
