package license

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// CacheStore persists the plaintext on-device mirror of (at most) one license
// record, including the last_online_ok timestamp the grace window is computed
// from.
//
// Absence is a valid "no license" state, not an error, and the cache is never
// silently deleted. Writes are atomic (temp file + rename) and serialized
// within the process.
type CacheStore struct {
	path string
	mu   sync.Mutex
}

// NewCacheStore creates a cache store backed by the given JSON file.
func NewCacheStore(path string) *CacheStore {
	return &CacheStore{path: path}
}

// Load reads the cached record. A missing or unreadable file returns
// (nil, nil): a corrupt cache is treated as absent rather than propagating a
// parse error into the evaluation.
func (s *CacheStore) Load() (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, nil
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, nil
	}
	return &rec, nil
}

// Save overwrites the cache with the given record.
func (s *CacheStore) Save(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.path, data, 0o600)
}

// MarkOnline stamps last_online_ok on the record and persists it. Called
// after every successful remote re-validation.
func (s *CacheStore) MarkOnline(rec *Record, now time.Time) error {
	t := now.UTC()
	rec.LastOnlineOK = &t
	return s.Save(rec)
}

// Exists reports whether a cache file is present.
func (s *CacheStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Path returns the cache file location.
func (s *CacheStore) Path() string {
	return s.path
}
