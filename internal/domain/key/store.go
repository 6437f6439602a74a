package key

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
	// ErrKeyNotFound indicates the requested key does not exist in the store.
	ErrKeyNotFound = errors.New("encryption key not found")

	// ErrActiveKeyExists indicates an insert would violate the single-ACTIVE
	// invariant for a (tenant_id, key_name) pair.
	ErrActiveKeyExists = errors.New("active encryption key already exists")
)

// ---------------------------------------------------------------------------
// Store interface
// ---------------------------------------------------------------------------

// Store defines the persistence contract for encryption key metadata.
type Store interface {
	// Create persists a new key. Returns ErrActiveKeyExists when an ACTIVE
	// key already exists for the same tenant and key name.
	Create(ctx context.Context, k *EncryptionKey) error

	// GetByID retrieves a key by its unique ID.
	GetByID(ctx context.Context, id uuid.UUID) (*EncryptionKey, error)

	// GetActive retrieves the single ACTIVE key for the tenant and key name.
	GetActive(ctx context.Context, tenantID, keyName string) (*EncryptionKey, error)

	// Update persists changes to an existing key.
	Update(ctx context.Context, k *EncryptionKey) error

	// ListActiveByPolicy returns the ACTIVE keys bound to a rotation policy.
	ListActiveByPolicy(ctx context.Context, policyID uuid.UUID) ([]*EncryptionKey, error)

	// ListByTenant returns all key versions for a tenant, newest first.
	ListByTenant(ctx context.Context, tenantID string) ([]*EncryptionKey, error)

	// ListRotatedBefore returns ROTATED keys whose rotation happened before
	// the cutoff, candidates for permanent disablement in the KMS.
	ListRotatedBefore(ctx context.Context, cutoff time.Time) ([]*EncryptionKey, error)

	// CreateAndRotate atomically persists the successor key and flips the old
	// key to ROTATED. Both writes succeed or neither does; at no instant are
	// two keys ACTIVE for the same tenant and key name.
	CreateAndRotate(ctx context.Context, newKey *EncryptionKey, oldID uuid.UUID, rotatedBy *uuid.UUID, now time.Time) error
}

// ---------------------------------------------------------------------------
// InMemoryStore
// ---------------------------------------------------------------------------

// InMemoryStore provides a thread-safe in-memory implementation of Store.
type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*EncryptionKey
	ordered []uuid.UUID
}

// NewInMemoryStore creates a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[uuid.UUID]*EncryptionKey)}
}

// Create implements Store.
func (s *InMemoryStore) Create(_ context.Context, k *EncryptionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(k)
}

func (s *InMemoryStore) createLocked(k *EncryptionKey) error {
	if k.Status == StatusActive && s.activeLocked(k.TenantID, k.KeyName) != nil {
		return ErrActiveKeyExists
	}

	cp := copyEncKey(k)
	s.byID[cp.ID] = cp
	s.ordered = append(s.ordered, cp.ID)
	return nil
}

func (s *InMemoryStore) activeLocked(tenantID, keyName string) *EncryptionKey {
	for _, k := range s.byID {
		if k.TenantID == tenantID && k.KeyName == keyName && k.Status == StatusActive {
			return k
		}
	}
	return nil
}

// GetByID implements Store.
func (s *InMemoryStore) GetByID(_ context.Context, id uuid.UUID) (*EncryptionKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.byID[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return copyEncKey(k), nil
}

// GetActive implements Store.
func (s *InMemoryStore) GetActive(_ context.Context, tenantID, keyName string) (*EncryptionKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k := s.activeLocked(tenantID, keyName); k != nil {
		return copyEncKey(k), nil
	}
	return nil, ErrKeyNotFound
}

// Update implements Store.
func (s *InMemoryStore) Update(_ context.Context, k *EncryptionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[k.ID]; !ok {
		return ErrKeyNotFound
	}
	s.byID[k.ID] = copyEncKey(k)
	return nil
}

// ListActiveByPolicy implements Store.
func (s *InMemoryStore) ListActiveByPolicy(_ context.Context, policyID uuid.UUID) ([]*EncryptionKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*EncryptionKey
	for _, id := range s.ordered {
		k, ok := s.byID[id]
		if !ok {
			continue
		}
		if k.Status == StatusActive && k.RotationPolicyID != nil && *k.RotationPolicyID == policyID {
			out = append(out, copyEncKey(k))
		}
	}
	return out, nil
}

// ListByTenant implements Store.
func (s *InMemoryStore) ListByTenant(_ context.Context, tenantID string) ([]*EncryptionKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*EncryptionKey
	for i := len(s.ordered) - 1; i >= 0; i-- {
		k, ok := s.byID[s.ordered[i]]
		if !ok {
			continue
		}
		if k.TenantID == tenantID {
			out = append(out, copyEncKey(k))
		}
	}
	return out, nil
}

// ListRotatedBefore implements Store.
func (s *InMemoryStore) ListRotatedBefore(_ context.Context, cutoff time.Time) ([]*EncryptionKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*EncryptionKey
	for _, id := range s.ordered {
		k, ok := s.byID[id]
		if !ok {
			continue
		}
		if k.Status == StatusRotated && k.RotatedAt != nil && k.RotatedAt.Before(cutoff) {
			out = append(out, copyEncKey(k))
		}
	}
	return out, nil
}

// CreateAndRotate implements Store. Both mutations happen under one lock so
// the single-ACTIVE invariant holds at every observable instant.
func (s *InMemoryStore) CreateAndRotate(_ context.Context, newKey *EncryptionKey, oldID uuid.UUID, rotatedBy *uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byID[oldID]
	if !ok {
		return ErrKeyNotFound
	}

	// Flip the old key first so the successor's ACTIVE insert does not trip
	// the single-ACTIVE check.
	prevStatus, prevRotatedAt, prevRotatedBy := old.Status, old.RotatedAt, old.RotatedByTokenID
	rotatedAt := now
	old.Status = StatusRotated
	old.RotatedAt = &rotatedAt
	old.RotatedByTokenID = rotatedBy

	if err := s.createLocked(newKey); err != nil {
		old.Status = prevStatus
		old.RotatedAt = prevRotatedAt
		old.RotatedByTokenID = prevRotatedBy
		return err
	}
	return nil
}

// copyEncKey returns a deep copy to prevent mutation through shared pointers.
func copyEncKey(k *EncryptionKey) *EncryptionKey {
	cp := *k
	if k.ExpiresAt != nil {
		v := *k.ExpiresAt
		cp.ExpiresAt = &v
	}
	if k.RotatedAt != nil {
		v := *k.RotatedAt
		cp.RotatedAt = &v
	}
	if k.ParentKeyID != nil {
		v := *k.ParentKeyID
		cp.ParentKeyID = &v
	}
	if k.RotationPolicyID != nil {
		v := *k.RotationPolicyID
		cp.RotationPolicyID = &v
	}
	if k.CreatedByTokenID != nil {
		v := *k.CreatedByTokenID
		cp.CreatedByTokenID = &v
	}
	if k.RotatedByTokenID != nil {
		v := *k.RotatedByTokenID
		cp.RotatedByTokenID = &v
	}
	return &cp
}
