package token

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	// ErrTokenNotFound indicates the requested token does not exist in the store.
	ErrTokenNotFound = errors.New("auth token not found")

	// ErrDuplicateTokenHash indicates an insert would violate the global
	// uniqueness of token_hash.
	ErrDuplicateTokenHash = errors.New("duplicate token hash")
)

// ---------------------------------------------------------------------------
// Store interface
// ---------------------------------------------------------------------------

// Store defines the persistence contract for auth tokens. Implementations
// may be backed by in-memory maps or a relational database.
type Store interface {
	// Create persists a new token. Returns ErrDuplicateTokenHash when the
	// hash already exists.
	Create(ctx context.Context, t *AuthToken) error

	// GetByID retrieves a token by its unique ID.
	GetByID(ctx context.Context, id uuid.UUID) (*AuthToken, error)

	// GetByHash retrieves a token by its SHA-256 hash.
	GetByHash(ctx context.Context, hash string) (*AuthToken, error)

	// Update persists changes to an existing token.
	Update(ctx context.Context, t *AuthToken) error

	// CreateAndRevoke atomically persists a new token and revokes the old
	// one. Used by rotation: both writes succeed or neither does.
	CreateAndRevoke(ctx context.Context, newToken *AuthToken, oldID uuid.UUID, reason string, now time.Time) error

	// RevokeActiveByUser revokes every ACTIVE token held by the user and
	// returns the number affected.
	RevokeActiveByUser(ctx context.Context, userID uuid.UUID, reason string, now time.Time) (int, error)

	// ExpireOverdue transitions ACTIVE tokens past their expires_at to
	// EXPIRED and returns the number affected.
	ExpireOverdue(ctx context.Context, now time.Time) (int, error)

	// DeleteTerminal hard-deletes tokens in a terminal status that reached
	// that status before the cutoff. Returns the number deleted.
	DeleteTerminal(ctx context.Context, cutoff time.Time) (int, error)
}

// ---------------------------------------------------------------------------
// InMemoryStore
// ---------------------------------------------------------------------------

// InMemoryStore provides a thread-safe in-memory implementation of Store.
// It is suitable for development, testing, and single-node deployments.
type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*AuthToken
	byHash  map[string]uuid.UUID
	ordered []uuid.UUID // insertion order for stable iteration
}

// NewInMemoryStore creates a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:   make(map[uuid.UUID]*AuthToken),
		byHash: make(map[string]uuid.UUID),
	}
}

// Create implements Store.
func (s *InMemoryStore) Create(_ context.Context, t *AuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(t)
}

func (s *InMemoryStore) createLocked(t *AuthToken) error {
	if _, exists := s.byHash[t.TokenHash]; exists {
		return ErrDuplicateTokenHash
	}

	cp := copyToken(t)
	s.byID[cp.ID] = cp
	s.byHash[cp.TokenHash] = cp.ID
	s.ordered = append(s.ordered, cp.ID)
	return nil
}

// GetByID implements Store.
func (s *InMemoryStore) GetByID(_ context.Context, id uuid.UUID) (*AuthToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.byID[id]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return copyToken(t), nil
}

// GetByHash implements Store.
func (s *InMemoryStore) GetByHash(_ context.Context, hash string) (*AuthToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byHash[hash]
	if !ok {
		return nil, ErrTokenNotFound
	}
	t, ok := s.byID[id]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return copyToken(t), nil
}

// Update implements Store.
func (s *InMemoryStore) Update(_ context.Context, t *AuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[t.ID]
	if !ok {
		return ErrTokenNotFound
	}

	if existing.TokenHash != t.TokenHash {
		delete(s.byHash, existing.TokenHash)
		s.byHash[t.TokenHash] = t.ID
	}
	s.byID[t.ID] = copyToken(t)
	return nil
}

// CreateAndRevoke implements Store. Both mutations happen under one lock so
// no observer sees the new token without the old one revoked.
func (s *InMemoryStore) CreateAndRevoke(_ context.Context, newToken *AuthToken, oldID uuid.UUID, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byID[oldID]
	if !ok {
		return ErrTokenNotFound
	}

	if err := s.createLocked(newToken); err != nil {
		return err
	}

	revokedAt := now
	old.Status = StatusRevoked
	old.RevokedAt = &revokedAt
	old.RevokedReason = reason
	return nil
}

// RevokeActiveByUser implements Store.
func (s *InMemoryStore) RevokeActiveByUser(_ context.Context, userID uuid.UUID, reason string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, id := range s.ordered {
		t, ok := s.byID[id]
		if !ok || t.UserID == nil || *t.UserID != userID {
			continue
		}
		if t.Status != StatusActive {
			continue
		}
		revokedAt := now
		t.Status = StatusRevoked
		t.RevokedAt = &revokedAt
		t.RevokedReason = reason
		count++
	}
	return count, nil
}

// ExpireOverdue implements Store.
func (s *InMemoryStore) ExpireOverdue(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, t := range s.byID {
		if t.Status == StatusActive && !now.Before(t.ExpiresAt) {
			t.Status = StatusExpired
			count++
		}
	}
	return count, nil
}

// DeleteTerminal implements Store.
func (s *InMemoryStore) DeleteTerminal(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	kept := s.ordered[:0]
	for _, id := range s.ordered {
		t, ok := s.byID[id]
		if !ok {
			continue
		}
		if t.Status.Terminal() && terminalAt(t).Before(cutoff) {
			delete(s.byHash, t.TokenHash)
			delete(s.byID, id)
			count++
			continue
		}
		kept = append(kept, id)
	}
	s.ordered = kept
	return count, nil
}

// terminalAt returns the instant the token reached its terminal status:
// revoked_at for revocations, expires_at otherwise.
func terminalAt(t *AuthToken) time.Time {
	if t.RevokedAt != nil {
		return *t.RevokedAt
	}
	return t.ExpiresAt
}

// copyToken returns a deep copy to prevent mutation through shared pointers.
func copyToken(t *AuthToken) *AuthToken {
	cp := *t
	if t.Scopes != nil {
		cp.Scopes = make([]string, len(t.Scopes))
		copy(cp.Scopes, t.Scopes)
	}
	if t.UserID != nil {
		v := *t.UserID
		cp.UserID = &v
	}
	if t.LastUsedAt != nil {
		v := *t.LastUsedAt
		cp.LastUsedAt = &v
	}
	if t.RevokedAt != nil {
		v := *t.RevokedAt
		cp.RevokedAt = &v
	}
	if t.ParentTokenID != nil {
		v := *t.ParentTokenID
		cp.ParentTokenID = &v
	}
	return &cp
}
