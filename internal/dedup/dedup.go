// Package dedup tracks which work items a stage has finished and which are
// currently in flight. Finished items survive restarts as a JSON file of
// keys; in-flight items are process-local and reset on restart.
package dedup

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/renameio/v2"
)

// DefaultStateDir is where the workers keep their persisted sets unless
// told otherwise.
const DefaultStateDir = "debug_output"

// Set is one stage's deduplication state. Safe for concurrent use.
type Set struct {
	mu        sync.Mutex
	path      string
	processed map[string]struct{}
	inFlight  map[string]struct{}
}

// Load reads the processed set from path. A missing file yields an empty set.
func Load(path string) (*Set, error) {
	s := &Set{
		path:      path,
		processed: make(map[string]struct{}),
		inFlight:  make(map[string]struct{}),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read dedup state %s: %w", path, err)
	}

	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("parse dedup state %s: %w", path, err)
	}
	for _, k := range keys {
		s.processed[k] = struct{}{}
	}
	slog.Debug("dedup state loaded", "path", path, "entries", len(keys))
	return s, nil
}

// Processed reports whether key has already been completed.
func (s *Set) Processed(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[key]
	return ok
}

// MarkProcessed records key as completed and persists the set before
// returning, so a completion is never announced for work that a restart
// would repeat. The in-flight reservation for key, if any, is released.
func (s *Set) MarkProcessed(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[key] = struct{}{}
	delete(s.inFlight, key)
	return s.persistLocked()
}

// TryAcquire reserves key for processing. It returns false when key is
// already reserved by another handler.
func (s *Set) TryAcquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[key]; ok {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

// Release drops the in-flight reservation for key, typically after a
// failure.
func (s *Set) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
}

// InFlight reports whether key is currently reserved.
func (s *Set) InFlight(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[key]
	return ok
}

// Persist writes the processed set to disk. MarkProcessed already persists
// on every addition; this exists for shutdown paths.
func (s *Set) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *Set) persistLocked() error {
	keys := make([]string, 0, len(s.processed))
	for k := range s.processed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	data, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("encode dedup state: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dedup state dir %s: %w", dir, err)
		}
	}
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write dedup state %s: %w", s.path, err)
	}
	return nil
}
