package license

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

// Codec serializes a license record to an opaque local artifact and back.
// Decode returns false instead of an error: a malformed or tampered artifact
// is simply "no artifact".
type Codec interface {
	Encode(rec *Record) ([]byte, error)
	Decode(data []byte) (*Record, bool)
}

// artifactSeparator sits between the integrity digest and the obscured
// payload. The digest is hex, so the first separator byte is unambiguous.
const artifactSeparator = '.'

// ObfuscatingCodec is the classic artifact scheme: canonical JSON, SHA-256
// integrity digest, and a repeating-keystream XOR derived from a shared
// secret.
//
// This raises the bar above editing a plaintext file; it is NOT access
// control. Anyone with the binary can recover the secret. For real
// confidentiality use SealedCodec behind the same interface.
type ObfuscatingCodec struct {
	key []byte
}

// NewObfuscatingCodec derives the keystream key from the shared secret.
func NewObfuscatingCodec(secret string) *ObfuscatingCodec {
	sum := sha256.Sum256([]byte(secret))
	return &ObfuscatingCodec{key: sum[:]}
}

// Encode produces digest || '.' || xor(canonical JSON).
func (c *ObfuscatingCodec) Encode(rec *Record) ([]byte, error) {
	raw, err := CanonicalJSON(rec)
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256(raw)
	out := make([]byte, 0, hex.EncodedLen(len(digest))+1+len(raw))
	out = append(out, []byte(hex.EncodeToString(digest[:]))...)
	out = append(out, artifactSeparator)
	out = append(out, xorKeystream(raw, c.key)...)
	return out, nil
}

// Decode reverses Encode. Returns (nil, false) on any failure; it never
// panics or returns an error past this boundary.
func (c *ObfuscatingCodec) Decode(data []byte) (*Record, bool) {
	idx := bytes.IndexByte(data, artifactSeparator)
	if idx < 0 {
		return nil, false
	}

	storedDigest, enc := data[:idx], data[idx+1:]
	raw := xorKeystream(enc, c.key)

	digest := sha256.Sum256(raw)
	if hex.EncodeToString(digest[:]) != string(storedDigest) {
		return nil, false
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false
	}
	return &rec, true
}

// xorKeystream applies the repeating-key XOR transform. Symmetric: applying
// it twice yields the input.
func xorKeystream(data, key []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}

// sealedSaltSize and sealedIterations parameterize the PBKDF2 derivation for
// the sealed codec.
const (
	sealedSaltSize   = 16
	sealedIterations = 10000
)

// SealedCodec implements the same artifact contract with AES-256-GCM and a
// PBKDF2-derived key. Artifact layout: salt || nonce || ciphertext. The GCM
// tag replaces the explicit digest; authentication failure reads as "no
// artifact", preserving the digest-guarded round-trip contract.
type SealedCodec struct {
	secret []byte
}

// NewSealedCodec creates an authenticated-encryption codec from the shared
// secret.
func NewSealedCodec(secret string) *SealedCodec {
	return &SealedCodec{secret: []byte(secret)}
}

// Encode seals the canonical JSON form of the record.
func (c *SealedCodec) Encode(rec *Record) ([]byte, error) {
	raw, err := CanonicalJSON(rec)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, sealedSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := c.aead(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(salt)+len(nonce)+len(raw)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, gcm.Seal(nil, nonce, raw, nil)...)
	return out, nil
}

// Decode opens a sealed artifact. Returns (nil, false) on any failure.
func (c *SealedCodec) Decode(data []byte) (*Record, bool) {
	if len(data) < sealedSaltSize {
		return nil, false
	}
	salt := data[:sealedSaltSize]

	gcm, err := c.aead(salt)
	if err != nil {
		return nil, false
	}

	rest := data[sealedSaltSize:]
	if len(rest) < gcm.NonceSize() {
		return nil, false
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	raw, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, false
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false
	}
	return &rec, true
}

func (c *SealedCodec) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(c.secret, salt, sealedIterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// ArtifactStore persists the opaque artifact file through a Codec.
type ArtifactStore struct {
	path  string
	codec Codec
	mu    sync.Mutex
}

// NewArtifactStore creates an artifact store at the given path.
func NewArtifactStore(path string, codec Codec) *ArtifactStore {
	return &ArtifactStore{path: path, codec: codec}
}

// Load reads and decodes the artifact. A missing, unreadable, or undecodable
// file reads as absent.
func (s *ArtifactStore) Load() (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, false
	}
	return s.codec.Decode(data)
}

// Save encodes and atomically writes the artifact.
func (s *ArtifactStore) Save(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.codec.Encode(rec)
	if err != nil {
		return err
	}
	return atomicWrite(s.path, data, 0o600)
}

// Path returns the artifact file location.
func (s *ArtifactStore) Path() string {
	return s.path
}

// atomicWrite writes via a temp file and rename so readers never observe a
// partial artifact.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
