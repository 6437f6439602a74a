package key

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pms/pms/internal/platform/audit"
	"github.com/pms/pms/internal/platform/kms"
	"github.com/pms/pms/internal/platform/metrics"
)

func newTestService() (*Service, *InMemoryStore, *kms.LocalProvider) {
	store := NewInMemoryStore()
	local := kms.NewLocalProvider()
	registry := kms.NewRegistry()
	registry.Register(local)
	svc := NewService(store, registry, audit.NewMemoryRecorder(), metrics.NewNop(), zerolog.Nop())
	return svc, store, local
}

func createTestKey(t *testing.T, svc *Service, tenant, name string) *EncryptionKey {
	t.Helper()
	k, err := svc.CreateKey(context.Background(), CreateKeyInput{
		TenantID:    tenant,
		KeyName:     name,
		KeyType:     "aes-256-gcm",
		KMSProvider: kms.ProviderLocal,
	})
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	return k
}

func TestCreateKey_FirstVersionActive(t *testing.T) {
	svc, store, _ := newTestService()

	k := createTestKey(t, svc, "tenant-1", "phi")
	if k.Version != 1 {
		t.Errorf("expected version 1, got %d", k.Version)
	}
	if k.Status != StatusActive {
		t.Errorf("expected ACTIVE, got %s", k.Status)
	}
	if k.KMSKeyID == "" {
		t.Error("expected KMS key reference")
	}

	active, err := store.GetActive(context.Background(), "tenant-1", "phi")
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active.ID != k.ID {
		t.Error("stored active key mismatch")
	}
}

func TestCreateKey_SecondActiveRejected(t *testing.T) {
	svc, _, _ := newTestService()

	createTestKey(t, svc, "tenant-1", "phi")
	_, err := svc.CreateKey(context.Background(), CreateKeyInput{
		TenantID:    "tenant-1",
		KeyName:     "phi",
		KMSProvider: kms.ProviderLocal,
	})
	if !errors.Is(err, ErrActiveKeyExists) {
		t.Errorf("expected ErrActiveKeyExists, got %v", err)
	}
}

func TestRotateKey_SingleActiveInvariant(t *testing.T) {
	svc, store, _ := newTestService()

	v1 := createTestKey(t, svc, "tenant-1", "phi")

	old, next, err := svc.RotateKey(context.Background(), v1.ID, nil)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}

	if old.Status != StatusRotated || old.RotatedAt == nil {
		t.Errorf("predecessor must be ROTATED, got %s", old.Status)
	}
	if next.Status != StatusActive {
		t.Errorf("successor must be ACTIVE, got %s", next.Status)
	}
	if next.Version != v1.Version+1 {
		t.Errorf("expected version %d, got %d", v1.Version+1, next.Version)
	}
	if next.ParentKeyID == nil || *next.ParentKeyID != v1.ID {
		t.Error("successor must reference its parent")
	}
	if next.KMSKeyID == v1.KMSKeyID {
		t.Error("rotation must produce new KMS material")
	}

	keys, err := store.ListByTenant(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	activeCount := 0
	for _, k := range keys {
		if k.Status == StatusActive {
			activeCount++
		}
	}
	if activeCount != 1 {
		t.Errorf("expected exactly one ACTIVE key, got %d", activeCount)
	}
}

func TestRotateKey_NoWritesOnKMSFailure(t *testing.T) {
	svc, store, local := newTestService()

	v1 := createTestKey(t, svc, "tenant-1", "phi")
	local.FailNext(10, errors.New("kms outage"))

	_, _, err := svc.RotateKey(context.Background(), v1.ID, nil)
	if err == nil {
		t.Fatal("expected rotation failure")
	}

	keys, listErr := store.ListByTenant(context.Background(), "tenant-1")
	if listErr != nil {
		t.Fatalf("list: %v", listErr)
	}
	if len(keys) != 1 {
		t.Fatalf("expected only the original key, got %d rows", len(keys))
	}
	if keys[0].ID != v1.ID || keys[0].Status != StatusActive {
		t.Error("original key must be unchanged and ACTIVE after KMS failure")
	}
}

func TestRotateKey_RejectsNonActive(t *testing.T) {
	svc, _, _ := newTestService()

	v1 := createTestKey(t, svc, "tenant-1", "phi")
	if _, _, err := svc.RotateKey(context.Background(), v1.ID, nil); err != nil {
		t.Fatalf("first rotate: %v", err)
	}

	// v1 is now ROTATED and immutable.
	if _, _, err := svc.RotateKey(context.Background(), v1.ID, nil); !errors.Is(err, ErrKeyNotActive) {
		t.Errorf("expected ErrKeyNotActive, got %v", err)
	}
}

func TestVerifyEncryptionStatus(t *testing.T) {
	svc, _, _ := newTestService()

	phi := createTestKey(t, svc, "tenant-1", "phi")
	createTestKey(t, svc, "tenant-1", "billing")
	createTestKey(t, svc, "tenant-2", "phi")
	if _, _, err := svc.RotateKey(context.Background(), phi.ID, nil); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	report, err := svc.VerifyEncryptionStatus(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.TotalKeys != 3 {
		t.Errorf("expected 3 keys for tenant-1, got %d", report.TotalKeys)
	}
	if report.ByStatus[StatusActive] != 2 {
		t.Errorf("expected 2 ACTIVE, got %d", report.ByStatus[StatusActive])
	}
	if report.ByStatus[StatusRotated] != 1 {
		t.Errorf("expected 1 ROTATED, got %d", report.ByStatus[StatusRotated])
	}
}

func TestDisableRetiredKeys(t *testing.T) {
	svc, store, local := newTestService()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	v1 := createTestKey(t, svc, "tenant-1", "phi")
	if _, _, err := svc.RotateKey(context.Background(), v1.ID, nil); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	// Within retention: nothing to disable.
	disabled, err := svc.DisableRetiredKeys(context.Background(), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if disabled != 0 {
		t.Errorf("expected 0 disabled inside retention, got %d", disabled)
	}

	// Past retention: the rotated key is disabled in the KMS and REVOKED.
	svc.now = func() time.Time { return base.Add(31 * 24 * time.Hour) }
	disabled, err = svc.DisableRetiredKeys(context.Background(), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if disabled != 1 {
		t.Errorf("expected 1 disabled, got %d", disabled)
	}

	stored, err := store.GetByID(context.Background(), v1.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusRevoked {
		t.Errorf("expected REVOKED, got %s", stored.Status)
	}
	if !local.IsDisabled(v1.KMSKeyID) {
		t.Error("expected KMS material disabled")
	}
}
