// Package credential persists the single administrative database password.
package credential

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
)

// ErrNotFound is returned when no credential has been stored yet.
var ErrNotFound = errors.New("credential not found")

// ConfigError reports a credential that could not be read or written.
type ConfigError struct {
	Op   string
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("credential %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("credential %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Store durably stores and retrieves the administrative credential.
type Store interface {
	Write(ctx context.Context, credential string) error
	Read(ctx context.Context) (string, error)
}

// MemoryStore keeps the credential in memory. Used by tests and embedded setups.
type MemoryStore struct {
	mu    sync.RWMutex
	value string
	set   bool
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Write(_ context.Context, credential string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = credential
	s.set = true
	return nil
}

func (s *MemoryStore) Read(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return "", &ConfigError{Op: "read", Err: ErrNotFound}
	}
	return s.value, nil
}

const passwordAlphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultPasswordLength is used by GeneratePassword when n <= 0.
const DefaultPasswordLength = 24

// GeneratePassword returns a random password of n characters drawn from an
// alphabet without look-alike characters.
func GeneratePassword(n int) (string, error) {
	if n <= 0 {
		n = DefaultPasswordLength
	}
	max := big.NewInt(int64(len(passwordAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		b[i] = passwordAlphabet[idx.Int64()]
	}
	return string(b), nil
}
