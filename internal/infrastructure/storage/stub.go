package storage

import (
	"context"
	"errors"
	"sync"
)

// StubObjectStorage keeps objects in memory. Used when no storage backend
// is configured and in tests; archived dead letters do not survive a
// restart with this implementation.
type StubObjectStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewStubObjectStorage creates a new in-memory object storage
func NewStubObjectStorage() *StubObjectStorage {
	return &StubObjectStorage{objects: make(map[string][]byte)}
}

// Upload stores the object in memory
func (s *StubObjectStorage) Upload(ctx context.Context, storageKey string, data []byte, contentType string) error {
	if storageKey == "" {
		return errors.New("storage key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	body := make([]byte, len(data))
	copy(body, data)
	s.objects[storageKey] = body
	return nil
}

// ObjectExists checks if an object was uploaded
func (s *StubObjectStorage) ObjectExists(ctx context.Context, storageKey string) (bool, error) {
	if storageKey == "" {
		return false, errors.New("storage key is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[storageKey]
	return ok, nil
}

// DeleteObject removes an object
func (s *StubObjectStorage) DeleteObject(ctx context.Context, storageKey string) error {
	if storageKey == "" {
		return errors.New("storage key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, storageKey)
	return nil
}

// Get returns a stored object's body (for tests)
func (s *StubObjectStorage) Get(storageKey string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.objects[storageKey]
	return body, ok
}

// Size returns the number of stored objects (for tests)
func (s *StubObjectStorage) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
