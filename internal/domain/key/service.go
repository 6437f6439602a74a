package key

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pms/pms/internal/platform/audit"
	"github.com/pms/pms/internal/platform/kms"
	"github.com/pms/pms/internal/platform/metrics"
)

// ErrKeyNotActive indicates a rotation was attempted on a key that is not in
// ACTIVE status.
var ErrKeyNotActive = errors.New("encryption key not active")

// Service owns all writes to encryption key metadata. Rotation is strictly
// ordered: KMS first, then a single transaction persisting the successor and
// retiring the predecessor.
type Service struct {
	store    Store
	registry *kms.Registry
	audit    audit.Recorder
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates a key service backed by the given store and provider
// registry.
func NewService(store Store, registry *kms.Registry, rec audit.Recorder, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		registry: registry,
		audit:    rec,
		metrics:  m,
		logger:   logger.With().Str("component", "key_service").Logger(),
		now:      time.Now,
	}
}

// CreateKeyInput carries the provisioning parameters for a new key.
type CreateKeyInput struct {
	TenantID         string
	KeyName          string
	KeyType          string
	KMSProvider      string
	RotationPolicyID *uuid.UUID
	CreatedByTokenID *uuid.UUID
}

// CreateKey materializes key material in the configured KMS provider and
// persists version 1 as ACTIVE. The KMS call happens first: a provider
// failure leaves no database state behind.
func (s *Service) CreateKey(ctx context.Context, in CreateKeyInput) (*EncryptionKey, error) {
	if in.TenantID == "" || in.KeyName == "" {
		return nil, fmt.Errorf("tenant_id and key_name are required")
	}

	provider, err := s.registry.Get(in.KMSProvider)
	if err != nil {
		return nil, err
	}

	kmsKeyID, err := provider.CreateKey(ctx, kms.KeySpec{
		TenantID:  in.TenantID,
		KeyName:   in.KeyName,
		Algorithm: in.KeyType,
	})
	if err != nil {
		return nil, fmt.Errorf("kms create for tenant %s key %s (%s): %w",
			in.TenantID, in.KeyName, in.KMSProvider, err)
	}

	now := s.now().UTC()
	k := &EncryptionKey{
		ID:               uuid.New(),
		TenantID:         in.TenantID,
		KeyName:          in.KeyName,
		Version:          1,
		Status:           StatusActive,
		KeyType:          in.KeyType,
		KMSProvider:      in.KMSProvider,
		KMSKeyID:         kmsKeyID,
		ActivatedAt:      now,
		RotationPolicyID: in.RotationPolicyID,
		CreatedByTokenID: in.CreatedByTokenID,
		CreatedAt:        now,
	}

	if err := s.store.Create(ctx, k); err != nil {
		return nil, fmt.Errorf("storing key for tenant %s key %s: %w", in.TenantID, in.KeyName, err)
	}

	s.recordAudit(ctx, audit.ActionKeyCreated, k, audit.OutcomeSuccess, "")
	s.logger.Info().
		Str("tenant_id", k.TenantID).
		Str("key_name", k.KeyName).
		Str("kms_provider", k.KMSProvider).
		Msg("encryption key created")
	return k, nil
}

// RotateKey replaces the current key with a successor: new KMS material under
// the same tenant and key name, a new row at version+1 with parent_key_id set,
// and the current key flipped to ROTATED. The database half is one
// transaction; a KMS failure leaves the current key untouched. Returns both
// records so callers can report the transition.
func (s *Service) RotateKey(ctx context.Context, currentID uuid.UUID, rotatedBy *uuid.UUID) (*EncryptionKey, *EncryptionKey, error) {
	current, err := s.store.GetByID(ctx, currentID)
	if err != nil {
		return nil, nil, err
	}
	if current.Status != StatusActive {
		return nil, nil, ErrKeyNotActive
	}

	provider, err := s.registry.Get(current.KMSProvider)
	if err != nil {
		return nil, nil, err
	}

	newKMSKeyID, err := provider.RotateKey(ctx, current.KMSKeyID)
	if err != nil {
		s.metrics.RotationFailures.WithLabelValues(current.KMSProvider).Inc()
		s.recordAudit(ctx, audit.ActionKeyRotated, current, audit.OutcomeFailure, err.Error())
		return nil, nil, fmt.Errorf("kms rotate for tenant %s key %s (%s): %w",
			current.TenantID, current.KeyName, current.KMSProvider, err)
	}

	now := s.now().UTC()
	next := &EncryptionKey{
		ID:               uuid.New(),
		TenantID:         current.TenantID,
		KeyName:          current.KeyName,
		Version:          current.Version + 1,
		Status:           StatusActive,
		KeyType:          current.KeyType,
		KMSProvider:      current.KMSProvider,
		KMSKeyID:         newKMSKeyID,
		ActivatedAt:      now,
		ParentKeyID:      &current.ID,
		RotationPolicyID: current.RotationPolicyID,
		CreatedByTokenID: rotatedBy,
		CreatedAt:        now,
	}

	if err := s.store.CreateAndRotate(ctx, next, current.ID, rotatedBy, now); err != nil {
		// The KMS version already exists but no row references it; flag it
		// for operator cleanup.
		s.logger.Error().
			Str("tenant_id", current.TenantID).
			Str("key_name", current.KeyName).
			Str("kms_provider", current.KMSProvider).
			Msg("rotation persisted nothing, orphaned kms key version")
		return nil, nil, fmt.Errorf("persisting rotation for tenant %s key %s: %w",
			current.TenantID, current.KeyName, err)
	}

	rotatedAt := now
	current.Status = StatusRotated
	current.RotatedAt = &rotatedAt
	current.RotatedByTokenID = rotatedBy

	s.metrics.RotationsTotal.WithLabelValues(next.KMSProvider).Inc()
	s.recordAudit(ctx, audit.ActionKeyRotated, next, audit.OutcomeSuccess, "")
	s.logger.Info().
		Str("tenant_id", next.TenantID).
		Str("key_name", next.KeyName).
		Int("version", next.Version).
		Msg("encryption key rotated")
	return current, next, nil
}

// StatusReport summarizes a tenant's key estate for diagnostics. Read-only,
// outside the rotation control path.
type StatusReport struct {
	TenantID    string            `json:"tenant_id"`
	TotalKeys   int               `json:"total_keys"`
	ByStatus    map[KeyStatus]int `json:"by_status"`
	ActiveNames []string          `json:"active_names"`
	CheckedAt   time.Time         `json:"checked_at"`
}

// VerifyEncryptionStatus reports key counts by status and the key names with
// an ACTIVE version for the tenant.
func (s *Service) VerifyEncryptionStatus(ctx context.Context, tenantID string) (*StatusReport, error) {
	keys, err := s.store.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing keys for tenant %s: %w", tenantID, err)
	}

	report := &StatusReport{
		TenantID:  tenantID,
		TotalKeys: len(keys),
		ByStatus:  make(map[KeyStatus]int),
		CheckedAt: s.now().UTC(),
	}
	for _, k := range keys {
		report.ByStatus[k.Status]++
		if k.Status == StatusActive {
			report.ActiveNames = append(report.ActiveNames, k.KeyName)
		}
	}
	return report, nil
}

// DisableRetiredKeys permanently disables, in the KMS, keys that have been
// ROTATED for longer than the retention window, then marks them REVOKED.
// Per-key failures are logged and skipped so one provider outage does not
// block the rest. Returns the number disabled.
func (s *Service) DisableRetiredKeys(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := s.now().UTC().Add(-retention)
	retired, err := s.store.ListRotatedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing retired keys: %w", err)
	}

	disabled := 0
	for _, k := range retired {
		provider, err := s.registry.Get(k.KMSProvider)
		if err != nil {
			s.logger.Warn().Err(err).Str("key_id", k.ID.String()).Msg("skipping retired key")
			continue
		}
		if err := provider.DisableKey(ctx, k.KMSKeyID); err != nil {
			s.logger.Warn().Err(err).
				Str("tenant_id", k.TenantID).
				Str("key_name", k.KeyName).
				Msg("kms disable failed")
			continue
		}

		k.Status = StatusRevoked
		if err := s.store.Update(ctx, k); err != nil {
			return disabled, fmt.Errorf("marking key %s revoked: %w", k.ID, err)
		}
		s.recordAudit(ctx, audit.ActionKeyDisabled, k, audit.OutcomeSuccess, "")
		disabled++
	}
	return disabled, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, k *EncryptionKey, outcome, detail string) {
	event := &audit.Event{
		TenantID:     k.TenantID,
		Action:       action,
		ResourceType: "encryption_key",
		Outcome:      outcome,
		Detail:       detail,
	}
	if k.ID != uuid.Nil {
		id := k.ID
		event.ResourceID = &id
	}
	if err := s.audit.Record(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("audit record failed")
	}
}
