package license

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"sync"
)

// TamperStore guards the plaintext license cache with a content digest kept
// in a separate config file. Any out-of-band edit of the cache shows up as a
// digest mismatch on the next check.
//
// Legitimate cache refreshes must go through Adopt (the trusted write path);
// a raw file write will correctly be flagged as tampered afterwards.
type TamperStore struct {
	path string
	mu   sync.Mutex
}

// tamperConfig is the on-disk shape of the digest config file.
type tamperConfig struct {
	LicenseDigest string `json:"license_digest,omitempty"`
}

// NewTamperStore creates a tamper store backed by the given config file.
func NewTamperStore(path string) *TamperStore {
	return &TamperStore{path: path}
}

// Check verifies the record against the stored baseline digest.
//
// A nil record returns true: pre-activation state is not tamper-evidence
// territory. On first observation the current digest is adopted as the
// trusted baseline. On mismatch it returns false and the caller must treat
// the cache as equivalent to "no valid license" (fail closed).
func (s *TamperStore) Check(rec *Record) bool {
	if rec == nil {
		return true
	}

	digest, err := recordDigest(rec)
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.load()
	if cfg.LicenseDigest != "" && cfg.LicenseDigest != digest {
		return false
	}

	cfg.LicenseDigest = digest
	// Persisting the baseline is best-effort: a read-only filesystem must not
	// turn a valid license into a rejection.
	s.save(cfg)
	return true
}

// Adopt records the digest of a freshly written cache as the new trusted
// baseline.
func (s *TamperStore) Adopt(rec *Record) error {
	if rec == nil {
		return nil
	}

	digest, err := recordDigest(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.load()
	cfg.LicenseDigest = digest
	return s.save(cfg)
}

func (s *TamperStore) load() tamperConfig {
	var cfg tamperConfig
	data, err := os.ReadFile(s.path)
	if err != nil {
		return cfg
	}
	// Corrupt config reads as empty; the next check re-adopts a baseline.
	_ = json.Unmarshal(data, &cfg)
	return cfg
}

func (s *TamperStore) save(cfg tamperConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.path, data, 0o600)
}

// recordDigest computes the SHA-256 hex digest of the record's canonical form.
func recordDigest(rec *Record) (string, error) {
	raw, err := CanonicalJSON(rec)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
