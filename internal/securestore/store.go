package securestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultNamespace prefixes every backend key written by a Store.
const DefaultNamespace = "caseflow_encrypted_"

// Backend is the unencrypted persistent key-value store underneath.
// *store.Store implements it.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Sizer is optionally implemented by backends that can report usage.
type Sizer interface {
	Size(ctx context.Context, prefix string) (int64, error)
}

// Store is an encrypted JSON key-value store over a Backend.
type Store struct {
	backend   Backend
	sealer    *sealer
	namespace string
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithNamespace overrides DefaultNamespace.
func WithNamespace(ns string) Option {
	return func(s *Store) { s.namespace = ns }
}

// WithLogger sets the logger used for fail-open read diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store sealing values under deviceKey.
func New(backend Backend, deviceKey []byte, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("securestore: nil backend")
	}
	sl, err := newSealer(deviceKey)
	if err != nil {
		return nil, fmt.Errorf("securestore: %w", err)
	}
	s := &Store{
		backend:   backend,
		sealer:    sl,
		namespace: DefaultNamespace,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Namespace returns the backend key prefix.
func (s *Store) Namespace() string {
	return s.namespace
}

func (s *Store) backendKey(key string) string {
	return s.namespace + key
}

// Set serializes value, encrypts it and replaces whatever was stored at key.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return &WriteError{Key: key, Err: fmt.Errorf("encode: %w", err)}
	}
	return s.SetRaw(ctx, key, plaintext)
}

// SetRaw encrypts already-serialized JSON and stores it at key.
func (s *Store) SetRaw(ctx context.Context, key string, plaintext []byte) error {
	bk := s.backendKey(key)
	ciphertext, err := s.sealer.seal(plaintext, []byte(bk))
	if err != nil {
		return &WriteError{Key: key, Err: fmt.Errorf("encrypt: %w", err)}
	}
	if err := s.backend.Set(ctx, bk, ciphertext); err != nil {
		return &WriteError{Key: key, Err: err}
	}
	return nil
}

// GetRaw returns the decrypted JSON stored at key. It returns ErrNotFound if
// the key is absent and a *ReadError if the value cannot be read back.
func (s *Store) GetRaw(ctx context.Context, key string) (json.RawMessage, error) {
	bk := s.backendKey(key)
	ciphertext, found, err := s.backend.Get(ctx, bk)
	if err != nil {
		return nil, &ReadError{Key: key, Stage: StageBackend, Err: err}
	}
	if !found {
		return nil, ErrNotFound
	}

	plaintext, err := s.sealer.open(ciphertext, []byte(bk))
	if err != nil {
		return nil, &ReadError{Key: key, Stage: StageDecrypt, Err: err}
	}
	if !json.Valid(plaintext) {
		return nil, &ReadError{Key: key, Stage: StageDecode, Err: errors.New("plaintext is not valid JSON")}
	}
	return json.RawMessage(plaintext), nil
}

// Get decodes the value at key into dst. It returns false when the key is
// absent or its value is unreadable; corruption is logged, never returned.
func (s *Store) Get(ctx context.Context, key string, dst any) bool {
	raw, err := s.GetRaw(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("securestore: unreadable value treated as absent", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.logger.Warn("securestore: undecodable value treated as absent", "key", key, "error", err)
		return false
	}
	return true
}

// Has reports whether a readable value exists at key.
func (s *Store) Has(ctx context.Context, key string) bool {
	_, err := s.GetRaw(ctx, key)
	return err == nil
}

// Remove deletes key. Removing an absent key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, s.backendKey(key)); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

// ListKeys returns every key in this namespace with the namespace stripped.
func (s *Store) ListKeys(ctx context.Context) ([]string, error) {
	return s.ListKeysWithPrefix(ctx, "")
}

// ListKeysWithPrefix returns namespace keys that start with prefix, stripped
// of the namespace.
func (s *Store) ListKeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.backend.Keys(ctx, s.namespace+prefix)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, s.namespace))
	}
	return out, nil
}

// Clear removes every key in this namespace. Keys outside the namespace are
// untouched.
func (s *Store) Clear(ctx context.Context) error {
	keys, err := s.ListKeys(ctx)
	if err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	var errs []error
	for _, k := range keys {
		if err := s.Remove(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("clear: %w", errors.Join(errs...))
	}
	return nil
}

// Size returns the ciphertext bytes stored under prefix within the namespace,
// or 0 if the backend cannot report usage.
func (s *Store) Size(ctx context.Context, prefix string) (int64, error) {
	sz, ok := s.backend.(Sizer)
	if !ok {
		return 0, nil
	}
	return sz.Size(ctx, s.namespace+prefix)
}
