package storage

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// KV is the local persistence surface for drafts and field-order
// preferences: plain get/set/remove plus key enumeration. Last write wins;
// no cross-process locking.
type KV interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(key string)
	Keys() []string
}

// NewKV returns a file-backed store rooted at dir. When the directory
// cannot be created the store degrades to an in-memory map transparently;
// callers see no behavioral difference beyond lost durability.
func NewKV(dir string, logger *zap.Logger) KV {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("KV directory unavailable, falling back to in-memory store",
			zap.String("dir", dir), zap.Error(err))
		return NewMemoryKV()
	}
	return &fileKV{dir: dir, logger: logger}
}

type fileKV struct {
	dir    string
	logger *zap.Logger
	mu     sync.Mutex
}

func (s *fileKV) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+".kv")
}

func (s *fileKV) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (s *fileKV) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.WriteFile(s.path(key), []byte(value), 0o644)
}

func (s *fileKV) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("KV remove failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *fileKV) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".kv") {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, ".kv"))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// NewMemoryKV returns the in-memory fallback store.
func NewMemoryKV() KV {
	return &memoryKV{values: map[string]string{}}
}

type memoryKV struct {
	mu     sync.Mutex
	values map[string]string
}

func (s *memoryKV) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *memoryKV) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *memoryKV) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

func (s *memoryKV) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	return keys
}
