package credential

import (
	"context"
	"errors"
	"sync"
)

var ErrEmptyCredential = errors.New("credential: empty credential")

// Store is the only owner of the current credential.
//
// Get returns the zero Credential when none is stored. Set replaces any
// existing value as a whole; Clear removes it so that Get returns the zero
// value, also after a process restart for durable implementations.
type Store interface {
	Get(ctx context.Context) (Credential, error)
	Set(ctx context.Context, c Credential) error
	Clear(ctx context.Context) error
}

// MemoryStore keeps the credential in process memory only.
type MemoryStore struct {
	mu  sync.RWMutex
	cur Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(context.Context) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur, nil
}

func (s *MemoryStore) Set(_ context.Context, c Credential) error {
	if c.IsZero() {
		return ErrEmptyCredential
	}
	s.mu.Lock()
	s.cur = c
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	s.cur = ""
	s.mu.Unlock()
	return nil
}
