package rotation

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrPolicyNotFound indicates the requested policy does not exist in the store.
var ErrPolicyNotFound = errors.New("rotation policy not found")

// PolicyStore defines the persistence contract for rotation policies.
type PolicyStore interface {
	// Create persists a new policy.
	Create(ctx context.Context, p *KeyRotationPolicy) error

	// GetByID retrieves a policy by its unique ID.
	GetByID(ctx context.Context, id uuid.UUID) (*KeyRotationPolicy, error)

	// Update persists changes to an existing policy.
	Update(ctx context.Context, p *KeyRotationPolicy) error

	// ListActive returns all policies in ACTIVE status.
	ListActive(ctx context.Context) ([]*KeyRotationPolicy, error)

	// ListByTenant returns all policies for a tenant.
	ListByTenant(ctx context.Context, tenantID string) ([]*KeyRotationPolicy, error)
}

// InMemoryPolicyStore provides a thread-safe in-memory PolicyStore.
type InMemoryPolicyStore struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*KeyRotationPolicy
	ordered []uuid.UUID
}

// NewInMemoryPolicyStore creates a new empty in-memory store.
func NewInMemoryPolicyStore() *InMemoryPolicyStore {
	return &InMemoryPolicyStore{byID: make(map[uuid.UUID]*KeyRotationPolicy)}
}

// Create implements PolicyStore.
func (s *InMemoryPolicyStore) Create(_ context.Context, p *KeyRotationPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := copyPolicy(p)
	s.byID[cp.ID] = cp
	s.ordered = append(s.ordered, cp.ID)
	return nil
}

// GetByID implements PolicyStore.
func (s *InMemoryPolicyStore) GetByID(_ context.Context, id uuid.UUID) (*KeyRotationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	return copyPolicy(p), nil
}

// Update implements PolicyStore.
func (s *InMemoryPolicyStore) Update(_ context.Context, p *KeyRotationPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[p.ID]; !ok {
		return ErrPolicyNotFound
	}
	s.byID[p.ID] = copyPolicy(p)
	return nil
}

// ListActive implements PolicyStore.
func (s *InMemoryPolicyStore) ListActive(_ context.Context) ([]*KeyRotationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*KeyRotationPolicy
	for _, id := range s.ordered {
		p, ok := s.byID[id]
		if !ok {
			continue
		}
		if p.Status == PolicyActive {
			out = append(out, copyPolicy(p))
		}
	}
	return out, nil
}

// ListByTenant implements PolicyStore.
func (s *InMemoryPolicyStore) ListByTenant(_ context.Context, tenantID string) ([]*KeyRotationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*KeyRotationPolicy
	for _, id := range s.ordered {
		p, ok := s.byID[id]
		if !ok {
			continue
		}
		if p.TenantID == tenantID {
			out = append(out, copyPolicy(p))
		}
	}
	return out, nil
}

func copyPolicy(p *KeyRotationPolicy) *KeyRotationPolicy {
	cp := *p
	if p.LastRotationAt != nil {
		v := *p.LastRotationAt
		cp.LastRotationAt = &v
	}
	if p.NextRotationAt != nil {
		v := *p.NextRotationAt
		cp.NextRotationAt = &v
	}
	return &cp
}
