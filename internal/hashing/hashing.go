// Package hashing computes salted fingerprints of secret values. Fingerprints
// are keyed BLAKE2b-256 digests: one-way, deterministic within an
// installation, and useless for dictionary attacks without the salt. No
// decryption capability exists anywhere; the live value is never derived
// from a digest.
package hashing

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/blake2b"
)

const (
	saltFile = "salt"
	lockFile = "salt.lock"
	saltSize = 32
)

// ErrSaltInit means the installation-wide salt could not be created or read.
// Without a salt no fingerprint is computable, so this is fatal to the
// whole metadata subsystem.
var ErrSaltInit = errors.New("salt initialization failed")

// Service computes salted fingerprints. The salt is read-only after
// construction, so a Service is safe for concurrent use.
type Service struct {
	salt []byte
}

// New creates a Service from an existing salt.
func New(salt []byte) (*Service, error) {
	if len(salt) != saltSize {
		return nil, fmt.Errorf("%w: salt must be %d bytes, got %d", ErrSaltInit, saltSize, len(salt))
	}
	return &Service{salt: salt}, nil
}

// Open loads the installation salt from dir, creating it on first run.
func Open(dir string) (*Service, error) {
	salt, err := EnsureSalt(dir)
	if err != nil {
		return nil, err
	}
	return New(salt)
}

// EnsureSalt returns the persisted salt for dir, generating and persisting
// one if absent. Two first-run processes never end up with different salts:
// the writer exclusive-creates a lock artifact, double-checks for a salt
// written in the meantime, and only then generates.
func EnsureSalt(dir string) ([]byte, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSaltInit, err)
	}
	saltPath := filepath.Join(dir, saltFile)
	lockPath := filepath.Join(dir, lockFile)

	for attempt := 0; attempt < 50; attempt++ {
		if salt, err := readSalt(saltPath); err == nil {
			return salt, nil
		}

		lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err != nil {
			// Another process holds the lock; wait for it to publish the salt.
			time.Sleep(20 * time.Millisecond)
			continue
		}
		lock.Close()

		salt, err := writeSaltLocked(saltPath)
		removeErr := os.Remove(lockPath)
		if err != nil {
			return nil, err
		}
		if removeErr != nil {
			return nil, fmt.Errorf("%w: releasing lock: %v", ErrSaltInit, removeErr)
		}
		return salt, nil
	}
	return nil, fmt.Errorf("%w: timed out waiting for %s", ErrSaltInit, lockPath)
}

func writeSaltLocked(saltPath string) ([]byte, error) {
	// Double-check: the salt may have been written between our first read
	// and acquiring the lock.
	if salt, err := readSalt(saltPath); err == nil {
		return salt, nil
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSaltInit, err)
	}

	tmp := saltPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(hex.EncodeToString(salt)), 0o600); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSaltInit, err)
	}
	if err := os.Rename(tmp, saltPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSaltInit, err)
	}
	return salt, nil
}

func readSalt(path string) ([]byte, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is derived from the configured data dir
	if err != nil {
		return nil, err
	}
	salt, err := hex.DecodeString(string(data))
	if err != nil || len(salt) != saltSize {
		return nil, fmt.Errorf("%w: corrupt salt file %s", ErrSaltInit, path)
	}
	return salt, nil
}

// Hash returns the hex-encoded salted fingerprint of plaintext.
func (s *Service) Hash(plaintext string) string {
	h, err := blake2b.New256(s.salt)
	if err != nil {
		// Only reachable with an oversized key; the constructor enforces size.
		panic(fmt.Sprintf("hashing: %v", err))
	}
	h.Write([]byte(plaintext))
	return hex.EncodeToString(h.Sum(nil))
}

// Matches reports whether text fingerprints to digest.
func (s *Service) Matches(text, digest string) bool {
	return s.Hash(text) == digest
}
