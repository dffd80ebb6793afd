// Package registry is the server side of the license platform: the record
// store, the issuance service, and the device-binding ledger backing the HTTP
// surface.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"

	"ssblic/internal/license"
)

// Store is the repository abstraction over license records. Components depend
// on this interface, never on a concrete map, so the storage backend is a
// deployment decision.
//
// Update runs fn on the stored record under a per-key lock and persists the
// result; it is the transactional primitive the ledger's read-check-write
// sequences rely on.
type Store interface {
	Get(ctx context.Context, key string) (*license.Record, error)
	Put(ctx context.Context, rec *license.Record) error
	Update(ctx context.Context, key string, fn func(rec *license.Record) error) (*license.Record, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]*license.Record, error)
}

// Store errors.
var (
	ErrNotFound  = errors.New("license not found")
	ErrDuplicate = errors.New("license key already exists")
)

// MemStore is the in-memory Store implementation. One mutex guards the map;
// Update holds it across the read-check-write so concurrent binds serialize.
type MemStore struct {
	mu      sync.Mutex
	records map[string]*license.Record
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]*license.Record)}
}

// Get returns a copy of the record for key.
func (s *MemStore) Get(ctx context.Context, key string) (*license.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Put inserts a new record. Key uniqueness is enforced here rather than
// trusted to the random key space.
func (s *MemStore) Put(ctx context.Context, rec *license.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.Key]; exists {
		return ErrDuplicate
	}
	s.records[rec.Key] = rec.Clone()
	return nil
}

// Update applies fn to the stored record atomically. fn receives a copy; the
// copy replaces the stored record only if fn returns nil.
func (s *MemStore) Update(ctx context.Context, key string, fn func(rec *license.Record) error) (*license.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}

	next := rec.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.records[key] = next
	return next.Clone(), nil
}

// Delete removes the record for key. Deleting a missing key is a no-op.
func (s *MemStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	return nil
}

// List returns all records sorted by key.
func (s *MemStore) List(ctx context.Context) ([]*license.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*license.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
