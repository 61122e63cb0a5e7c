package blob

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store. It is safe for concurrent use and is
// meant for tests.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) BucketExists(_ context.Context, bucket string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.buckets[bucket]
	return ok, nil
}

func (s *MemoryStore) MakeBucket(_ context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[bucket]; !ok {
		s.buckets[bucket] = make(map[string][]byte)
	}
	return nil
}

func (s *MemoryStore) Put(_ context.Context, bucket, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[bucket]
	if !ok {
		return &StoreError{Op: "put", Bucket: bucket, Path: path, Err: ErrNotFound}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	b[path] = cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, bucket, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[bucket]
	if !ok {
		return nil, &StoreError{Op: "get", Bucket: bucket, Path: path, Err: ErrNotFound}
	}
	data, ok := b[path]
	if !ok {
		return nil, &StoreError{Op: "get", Bucket: bucket, Path: path, Err: ErrNotFound}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (s *MemoryStore) List(_ context.Context, bucket, prefix string, recursive bool) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[bucket]
	if !ok {
		return nil, &StoreError{Op: "list", Bucket: bucket, Path: prefix, Err: ErrNotFound}
	}
	var paths []string
	for path := range b {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		// Without recursion, skip anything nested below the prefix.
		if !recursive && strings.Contains(path[len(prefix):], "/") {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}
