package checkpoint

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"
)

// SealedStore keeps the cache encrypted at rest with AES-256-GCM. The
// key is derived from an operator-supplied passphrase via
// PBKDF2-SHA-256 and a random salt kept next to the data file; the
// passphrase itself comes from outside (config / key management) and
// is never written to disk, so the stored bytes alone cannot recover
// the key.
type SealedStore struct {
	path string
	aead cipher.AEAD
}

const (
	sealedNonceSize  = 12
	sealedKeySize    = 32
	sealedSaltSize   = 32
	sealedIterations = 600_000
)

var (
	ErrSealedCorrupt = errors.New("sealed store corrupt or wrong key")
	errNoPassphrase  = errors.New("sealed store passphrase is empty")
)

// OpenSealedStore derives the key and prepares the store at path. The
// salt file is created on first use.
func OpenSealedStore(path, passphrase string) (*SealedStore, error) {
	if passphrase == "" {
		return nil, errNoPassphrase
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("mkdir cache dir: %w", err)
	}

	saltPath := path + ".salt"
	salt, err := os.ReadFile(saltPath)
	if os.IsNotExist(err) {
		salt = make([]byte, sealedSaltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
		if err := os.WriteFile(saltPath, salt, 0o600); err != nil {
			return nil, fmt.Errorf("write salt: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}

	key := pbkdf2.Key([]byte(passphrase), salt, sealedIterations, sealedKeySize, sha256.New)
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}

	return &SealedStore{path: path, aead: aead}, nil
}

// Load decrypts and decodes the cache file. A missing file is an empty
// cache; a present-but-undecryptable file is a storage fault the
// caller must treat as fail-closed.
func (s *SealedStore) Load() (map[string]CacheEntry, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]CacheEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache file: %w", err)
	}
	if len(data) < sealedNonceSize {
		return nil, ErrSealedCorrupt
	}

	plain, err := s.aead.Open(nil, data[:sealedNonceSize], data[sealedNonceSize:], nil)
	if err != nil {
		return nil, ErrSealedCorrupt
	}

	var entries map[string]CacheEntry
	if err := json.Unmarshal(plain, &entries); err != nil {
		return nil, ErrSealedCorrupt
	}
	return entries, nil
}

// Save encrypts and atomically replaces the cache file, so a crash
// mid-write leaves the previous generation intact.
func (s *SealedStore) Save(entries map[string]CacheEntry) error {
	plain, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}

	nonce := make([]byte, sealedNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plain, nil)

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
