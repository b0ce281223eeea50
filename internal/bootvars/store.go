// Package bootvars publishes information about the running image in loader
// variables so the booted system can tell how it was started.
package bootvars

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/cozystack/uki-stub/internal/efi"
)

// Store is a persistent key/value variable store.
type Store interface {
	Exists(name string) (bool, error)
	Get(name string) ([]byte, error)
	Set(name string, value []byte) error
}

// ErrNotFound is returned by Get for unset variables.
var ErrNotFound = errors.New("variable not found")

// MemoryStore keeps variables in a map.
type MemoryStore struct {
	mu   sync.Mutex
	vars map[string][]byte

	// Sets counts successful Set calls.
	Sets int
}

// NewMemoryStore returns a store holding a copy of initial.
func NewMemoryStore(initial map[string][]byte) *MemoryStore {
	s := &MemoryStore{vars: make(map[string][]byte, len(initial))}
	for k, v := range initial {
		s.vars[k] = append([]byte(nil), v...)
	}
	return s
}

// Exists implements Store.
func (s *MemoryStore) Exists(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.vars[name]
	return ok, nil
}

// Get implements Store.
func (s *MemoryStore) Get(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vars[name]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, name)
	}
	return append([]byte(nil), v...), nil
}

// Set implements Store.
func (s *MemoryStore) Set(name string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vars == nil {
		s.vars = make(map[string][]byte)
	}
	s.vars[name] = append([]byte(nil), value...)
	s.Sets++
	return nil
}

// EFIStore keeps variables in one vendor scope of an efivarfs store.
type EFIStore struct {
	RW    efi.ReadWriter
	Scope uuid.UUID
}

// NewEFIStore stores variables in the loader scope of rw.
func NewEFIStore(rw efi.ReadWriter) *EFIStore {
	return &EFIStore{RW: rw, Scope: efi.ScopeLoader}
}

// Exists implements Store.
func (s *EFIStore) Exists(name string) (bool, error) {
	_, err := s.Get(name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Get implements Store.
func (s *EFIStore) Get(name string) ([]byte, error) {
	v, _, err := s.RW.Read(s.Scope, name)
	if efi.IsNotExist(err) {
		return nil, errors.Mark(err, ErrNotFound)
	}
	return v, err
}

// Set implements Store. Variables are volatile and visible at runtime.
func (s *EFIStore) Set(name string, value []byte) error {
	return s.RW.Write(s.Scope, name, efi.AttrBootserviceAccess|efi.AttrRuntimeAccess, value)
}
