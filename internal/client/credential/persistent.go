package credential

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/campuskeeper/internal/client/repositories/metadata"
)

// AccessTokenKey is the single durable key holding the bearer credential.
const AccessTokenKey = "access_token"

// PersistentStore keeps the credential in a metadata repository and caches
// it in memory after the first read.
//
// Writes go to durable storage first and to the cache right after, under
// the same lock, so the two copies never disagree past a single write.
type PersistentStore struct {
	repo metadata.Repository

	mu     sync.Mutex
	loaded bool
	cached Credential
}

func NewPersistentStore(repo metadata.Repository) *PersistentStore {
	return &PersistentStore{repo: repo}
}

var (
	_ Store = (*PersistentStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

func (s *PersistentStore) Get(ctx context.Context) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		return s.cached, nil
	}

	v, err := s.repo.Get(ctx, AccessTokenKey)
	if err != nil {
		return "", fmt.Errorf("credential: load: %w", err)
	}
	s.cached = Credential(v)
	s.loaded = true
	return s.cached, nil
}

func (s *PersistentStore) Set(ctx context.Context, c Credential) error {
	if c.IsZero() {
		return ErrEmptyCredential
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Set(ctx, AccessTokenKey, []byte(c)); err != nil {
		return fmt.Errorf("credential: save: %w", err)
	}
	s.cached = c
	s.loaded = true
	return nil
}

// Clear drops the cached credential even when the durable delete fails:
// a credential that may be invalid is never served again by this process.
// The durable error is still returned so the caller can report it.
func (s *PersistentStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cached = ""
	s.loaded = true

	if err := s.repo.Delete(ctx, AccessTokenKey); err != nil {
		return fmt.Errorf("credential: clear: %w", err)
	}
	return nil
}
