package token

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newToken(hash string) *AuthToken {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &AuthToken{
		ID:        uuid.New(),
		TokenHash: hash,
		TokenType: TypeAccess,
		Status:    StatusActive,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
}

func TestInMemoryStore_DuplicateHashRejected(t *testing.T) {
	s := NewInMemoryStore()

	if err := s.Create(context.Background(), newToken("hash-a")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(context.Background(), newToken("hash-a")); err != ErrDuplicateTokenHash {
		t.Errorf("expected ErrDuplicateTokenHash, got %v", err)
	}
}

func TestInMemoryStore_CreateAndRevokeAtomic(t *testing.T) {
	s := NewInMemoryStore()
	old := newToken("hash-old")
	if err := s.Create(context.Background(), old); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(context.Background(), newToken("hash-taken")); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)

	// Colliding hash: the whole rotation must fail and the old token stay ACTIVE.
	err := s.CreateAndRevoke(context.Background(), newToken("hash-taken"), old.ID, "rotated", now)
	if err != ErrDuplicateTokenHash {
		t.Fatalf("expected ErrDuplicateTokenHash, got %v", err)
	}
	stored, err := s.GetByID(context.Background(), old.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusActive {
		t.Errorf("old token must stay ACTIVE after failed rotation, got %s", stored.Status)
	}

	// Clean rotation revokes the old token and persists the new.
	next := newToken("hash-new")
	if err := s.CreateAndRevoke(context.Background(), next, old.ID, "rotated", now); err != nil {
		t.Fatalf("create and revoke: %v", err)
	}
	stored, err = s.GetByID(context.Background(), old.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusRevoked || stored.RevokedAt == nil {
		t.Errorf("old token must be REVOKED, got %s", stored.Status)
	}
	if _, err := s.GetByHash(context.Background(), "hash-new"); err != nil {
		t.Errorf("new token must be retrievable: %v", err)
	}
}

func TestInMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewInMemoryStore()
	orig := newToken("hash-copy")
	orig.Scopes = []string{"a"}
	if err := s.Create(context.Background(), orig); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetByID(context.Background(), orig.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Status = StatusRevoked
	got.Scopes[0] = "mutated"

	again, err := s.GetByID(context.Background(), orig.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if again.Status != StatusActive || again.Scopes[0] != "a" {
		t.Error("mutations through returned pointers must not reach the store")
	}
}

func TestInMemoryStore_ExpireOverdue(t *testing.T) {
	s := NewInMemoryStore()
	tok := newToken("hash-exp")
	if err := s.Create(context.Background(), tok); err != nil {
		t.Fatalf("create: %v", err)
	}

	before := tok.ExpiresAt.Add(-time.Minute)
	count, err := s.ExpireOverdue(context.Background(), before)
	if err != nil || count != 0 {
		t.Errorf("nothing should expire before expires_at, got %d (%v)", count, err)
	}

	after := tok.ExpiresAt.Add(time.Minute)
	count, err = s.ExpireOverdue(context.Background(), after)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 expired, got %d", count)
	}
}
