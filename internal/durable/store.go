// Package durable persists small named counters outside the relational
// store, on a filesystem node that outlives the store file. Row id counters
// live here so that a destroyed and recovered store can never hand out an id
// that an older generation of the store already used.
package durable

import (
	"sort"
	"sync"
)

// Store is the narrow key-value durability interface the allocator runs on.
// The production implementation uses filesystem extended attributes; tests
// use MapStore. All keys are full attribute names.
type Store interface {
	// Get returns the stored value for key, or types.ErrNotFound.
	Get(key string) (string, error)
	// Set stores value under key, creating or replacing it.
	Set(key, value string) error
	// List returns all stored key names.
	List() ([]string, error)
	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error
}

// MapStore is an in-memory Store for tests. When Err is set every operation
// fails with it, which exercises the degraded (no stable-id) paths.
type MapStore struct {
	mu  sync.Mutex
	m   map[string]string
	Err error
}

// NewMapStore returns an empty in-memory store.
func NewMapStore() *MapStore {
	return &MapStore{m: make(map[string]string)}
}

// Get implements Store.
func (s *MapStore) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	v, ok := s.m[key]
	if !ok {
		return "", errNotFound
	}
	return v, nil
}

// Set implements Store.
func (s *MapStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.m[key] = value
	return nil
}

// List implements Store.
func (s *MapStore) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	keys := make([]string, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Remove implements Store.
func (s *MapStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	delete(s.m, key)
	return nil
}
