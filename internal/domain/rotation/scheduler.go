package rotation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pms/pms/internal/domain/key"
	"github.com/pms/pms/internal/platform/audit"
	"github.com/pms/pms/internal/platform/metrics"
)

// SweepResult is the per-policy summary a sweep produces; besides key and
// audit rows it is the scheduler's only externally observable artifact.
type SweepResult struct {
	PolicyID    uuid.UUID `json:"policy_id"`
	RotatedKeys int       `json:"rotated_keys"`
	FailedKeys  int       `json:"failed_keys"`
	Status      string    `json:"status"`
	Errors      []string  `json:"errors,omitempty"`
}

// Scheduler drives key rotation sweeps. It is stateless between sweeps: all
// durable state lives in the policy and key stores. The running flag and loop
// handle belong exclusively to this instance.
type Scheduler struct {
	policies PolicyStore
	keys     key.Store
	keySvc   *key.Service
	audit    audit.Recorder
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler sweeping at the given interval.
func NewScheduler(policies PolicyStore, keys key.Store, keySvc *key.Service, rec audit.Recorder, m *metrics.Metrics, logger zerolog.Logger, interval time.Duration) *Scheduler {
	return &Scheduler{
		policies: policies,
		keys:     keys,
		keySvc:   keySvc,
		audit:    rec,
		metrics:  m,
		logger:   logger.With().Str("component", "rotation_scheduler").Logger(),
		interval: interval,
		now:      time.Now,
	}
}

// Start launches the background sweep loop. Starting an already-running
// scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(loopCtx)

	s.logger.Info().Dur("interval", s.interval).Msg("rotation scheduler started")
}

// Stop halts the loop and waits for an in-flight sweep to finish: a rotation
// mid-transaction is never interrupted. Stopping a stopped scheduler is a
// no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info().Msg("rotation scheduler stopped")
}

// Running reports whether the sweep loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// The sweep uses a background context so cancellation stops
			// the loop without cutting off work already underway.
			if _, err := s.RunSweep(context.Background()); err != nil {
				s.logger.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

// RunSweep executes one due-policy-check-and-rotate cycle and returns the
// per-policy summaries. Per-key failures are isolated: one key's KMS outage
// never blocks its siblings or other policies.
func (s *Scheduler) RunSweep(ctx context.Context) ([]SweepResult, error) {
	started := s.now()
	defer func() {
		s.metrics.SweepsTotal.Inc()
		s.metrics.SweepDuration.Observe(time.Since(started).Seconds())
	}()

	policies, err := s.policies.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active policies: %w", err)
	}

	now := s.now().UTC()
	var results []SweepResult
	for _, p := range policies {
		if !p.ShouldRotateNow(now) {
			continue
		}
		results = append(results, s.rotatePolicy(ctx, p))
	}

	if len(results) > 0 {
		s.logger.Info().Int("policies", len(results)).Msg("sweep complete")
	}
	return results, nil
}

// TriggerPolicy fires one policy immediately, bypassing the due check. This
// is the entry point for manual and event-driven rotations; the policy must
// still be ACTIVE.
func (s *Scheduler) TriggerPolicy(ctx context.Context, policyID uuid.UUID) (*SweepResult, error) {
	p, err := s.policies.GetByID(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if p.Status != PolicyActive {
		return nil, fmt.Errorf("policy %s is %s, not ACTIVE", policyID, p.Status)
	}

	result := s.rotatePolicy(ctx, p)
	return &result, nil
}

// rotatePolicy rotates every ACTIVE key bound to the policy and performs the
// policy bookkeeping afterwards.
func (s *Scheduler) rotatePolicy(ctx context.Context, p *KeyRotationPolicy) SweepResult {
	result := SweepResult{PolicyID: p.ID, Status: "completed"}

	keys, err := s.keys.ListActiveByPolicy(ctx, p.ID)
	if err != nil {
		result.Status = "error"
		result.Errors = append(result.Errors, fmt.Sprintf("listing keys: %v", err))
		return result
	}

	for _, k := range keys {
		// A key bound to a policy from another tenant is a configuration
		// error; report it as failed rather than rotating across tenants.
		if k.TenantID != p.TenantID {
			result.FailedKeys++
			result.Errors = append(result.Errors,
				fmt.Sprintf("key %s: tenant mismatch (key %s, policy %s)", k.ID, k.TenantID, p.TenantID))
			s.logger.Error().
				Str("policy_id", p.ID.String()).
				Str("key_id", k.ID.String()).
				Msg("tenant mismatch between policy and key")
			continue
		}

		if _, _, err := s.keySvc.RotateKey(ctx, k.ID, nil); err != nil {
			result.FailedKeys++
			result.Errors = append(result.Errors, fmt.Sprintf("key %s: %v", k.ID, err))
			s.logger.Error().Err(err).
				Str("policy_id", p.ID.String()).
				Str("key_id", k.ID.String()).
				Msg("key rotation failed")
			continue
		}
		result.RotatedKeys++
	}

	s.bookkeep(ctx, p, &result)
	return result
}

// bookkeep advances last_rotation_at and recomputes next_rotation_at after a
// policy's keys have been processed. These are the only policy fields the
// scheduler mutates.
func (s *Scheduler) bookkeep(ctx context.Context, p *KeyRotationPolicy, result *SweepResult) {
	now := s.now().UTC()
	p.LastRotationAt = &now

	next, err := p.CalculateNextRotation(now)
	if err != nil {
		result.Status = "error"
		result.Errors = append(result.Errors, fmt.Sprintf("next rotation: %v", err))
		return
	}
	p.NextRotationAt = &next

	if err := s.policies.Update(ctx, p); err != nil {
		result.Status = "error"
		result.Errors = append(result.Errors, fmt.Sprintf("policy update: %v", err))
		return
	}

	s.recordAudit(ctx, p, result)
}

func (s *Scheduler) recordAudit(ctx context.Context, p *KeyRotationPolicy, result *SweepResult) {
	outcome := audit.OutcomeSuccess
	if result.FailedKeys > 0 || result.Status != "completed" {
		outcome = audit.OutcomeFailure
	}
	id := p.ID
	event := &audit.Event{
		TenantID:     p.TenantID,
		Action:       audit.ActionSweepCompleted,
		ResourceType: "key_rotation_policy",
		ResourceID:   &id,
		Outcome:      outcome,
		Detail:       fmt.Sprintf("rotated %d, failed %d", result.RotatedKeys, result.FailedKeys),
	}
	if err := s.audit.Record(ctx, event); err != nil {
		s.logger.Warn().Err(err).Msg("audit record failed")
	}
}

// CreatePolicy validates and persists a new policy, computing the initial
// next_rotation_at for time-based triggers.
func (s *Scheduler) CreatePolicy(ctx context.Context, p *KeyRotationPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	now := s.now().UTC()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = now
	p.UpdatedAt = now

	if p.RotationTrigger == TriggerTimeBased && p.NextRotationAt == nil {
		next, err := p.CalculateNextRotation(now)
		if err != nil {
			return err
		}
		p.NextRotationAt = &next
	}

	if err := s.policies.Create(ctx, p); err != nil {
		return fmt.Errorf("storing policy: %w", err)
	}

	id := p.ID
	if err := s.audit.Record(ctx, &audit.Event{
		TenantID:     p.TenantID,
		Action:       audit.ActionPolicyCreated,
		ResourceType: "key_rotation_policy",
		ResourceID:   &id,
		Outcome:      audit.OutcomeSuccess,
	}); err != nil {
		s.logger.Warn().Err(err).Msg("audit record failed")
	}
	return nil
}

// UpdatePolicyStatus is a direct administrative setter with no side effects
// beyond persistence; operators use it to SUSPEND a misbehaving policy
// without deleting it.
func (s *Scheduler) UpdatePolicyStatus(ctx context.Context, policyID uuid.UUID, status PolicyStatus) error {
	if !status.Valid() {
		return fmt.Errorf("unknown policy status %q", status)
	}

	p, err := s.policies.GetByID(ctx, policyID)
	if err != nil {
		return err
	}
	p.Status = status
	if err := s.policies.Update(ctx, p); err != nil {
		return err
	}

	id := p.ID
	if err := s.audit.Record(ctx, &audit.Event{
		TenantID:     p.TenantID,
		Action:       audit.ActionPolicyUpdated,
		ResourceType: "key_rotation_policy",
		ResourceID:   &id,
		Outcome:      audit.OutcomeSuccess,
		Detail:       fmt.Sprintf("status set to %s", status),
	}); err != nil {
		s.logger.Warn().Err(err).Msg("audit record failed")
	}
	return nil
}

// GetRotationHistory returns the tenant's ROTATED key versions for audit and
// reporting; not part of the rotation control path.
func (s *Scheduler) GetRotationHistory(ctx context.Context, tenantID string) ([]*key.EncryptionKey, error) {
	keys, err := s.keys.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var history []*key.EncryptionKey
	for _, k := range keys {
		if k.Status == key.StatusRotated {
			history = append(history, k)
		}
	}
	return history, nil
}
