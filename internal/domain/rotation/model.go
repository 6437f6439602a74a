// Package rotation implements key rotation policies and the background
// scheduler that sweeps them: due policies have their bound keys rotated
// through the key service, with per-key failure isolation and policy
// bookkeeping after each sweep.
package rotation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RotationTrigger discriminates how a policy fires. Only TIME_BASED policies
// auto-fire on schedule; USAGE_BASED and EVENT_BASED policies are persisted
// for bookkeeping and fire through TriggerPolicy, and MANUAL never auto-fires.
type RotationTrigger string

const (
	TriggerTimeBased  RotationTrigger = "TIME_BASED"
	TriggerUsageBased RotationTrigger = "USAGE_BASED"
	TriggerEventBased RotationTrigger = "EVENT_BASED"
	TriggerManual     RotationTrigger = "MANUAL"
)

// Valid reports whether t is a known trigger.
func (t RotationTrigger) Valid() bool {
	switch t {
	case TriggerTimeBased, TriggerUsageBased, TriggerEventBased, TriggerManual:
		return true
	}
	return false
}

// PolicyStatus is the administrative state of a policy. Only ACTIVE policies
// participate in sweeps; SUSPENDED parks a misbehaving policy without
// deleting it.
type PolicyStatus string

const (
	PolicyActive    PolicyStatus = "ACTIVE"
	PolicyInactive  PolicyStatus = "INACTIVE"
	PolicySuspended PolicyStatus = "SUSPENDED"
)

// Valid reports whether s is a known policy status.
func (s PolicyStatus) Valid() bool {
	switch s {
	case PolicyActive, PolicyInactive, PolicySuspended:
		return true
	}
	return false
}

// KeyRotationPolicy maps to the key_rotation_policy table. The scheduler
// reads policies and mutates only LastRotationAt and NextRotationAt.
type KeyRotationPolicy struct {
	ID                   uuid.UUID       `db:"id" json:"id"`
	TenantID             string          `db:"tenant_id" json:"tenant_id"`
	PolicyName           string          `db:"policy_name" json:"policy_name"`
	KeyType              string          `db:"key_type" json:"key_type"`
	KMSProvider          string          `db:"kms_provider" json:"kms_provider"`
	RotationTrigger      RotationTrigger `db:"rotation_trigger" json:"rotation_trigger"`
	Status               PolicyStatus    `db:"status" json:"status"`
	RotationIntervalDays int             `db:"rotation_interval_days" json:"rotation_interval_days"`
	RotationTimeOfDay    string          `db:"rotation_time_of_day" json:"rotation_time_of_day"`
	Timezone             string          `db:"timezone" json:"timezone"`
	LastRotationAt       *time.Time      `db:"last_rotation_at" json:"last_rotation_at,omitempty"`
	NextRotationAt       *time.Time      `db:"next_rotation_at" json:"next_rotation_at,omitempty"`
	EnableRollback       bool            `db:"enable_rollback" json:"enable_rollback"`
	RollbackPeriodHours  int             `db:"rollback_period_hours" json:"rollback_period_hours"`
	RetainOldKeysDays    int             `db:"retain_old_keys_days" json:"retain_old_keys_days"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updated_at"`
}

// Validate rejects malformed policies before any persistence.
func (p *KeyRotationPolicy) Validate() error {
	if p.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if p.PolicyName == "" {
		return fmt.Errorf("policy_name is required")
	}
	if !p.RotationTrigger.Valid() {
		return fmt.Errorf("unknown rotation_trigger %q", p.RotationTrigger)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("unknown status %q", p.Status)
	}
	if p.RotationTrigger == TriggerTimeBased && p.RotationIntervalDays <= 0 {
		return fmt.Errorf("rotation_interval_days must be positive for time-based policies")
	}
	if p.RotationTimeOfDay != "" {
		if _, err := time.Parse("15:04:05", p.RotationTimeOfDay); err != nil {
			return fmt.Errorf("rotation_time_of_day %q is not HH:MM:SS: %w", p.RotationTimeOfDay, err)
		}
	}
	if _, err := p.location(); err != nil {
		return err
	}
	if p.RollbackPeriodHours < 0 || p.RetainOldKeysDays < 0 {
		return fmt.Errorf("rollback and retention periods must not be negative")
	}
	return nil
}

func (p *KeyRotationPolicy) location() (*time.Location, error) {
	if p.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", p.Timezone, err)
	}
	return loc, nil
}

// ShouldRotateNow reports whether the scheduler should fire the policy:
// time-based trigger and next_rotation_at reached. Manual, usage and event
// policies never auto-fire from the sweep; they rotate through the
// scheduler's TriggerPolicy, since nothing in this system counts key usage
// or delivers rotation events.
func (p *KeyRotationPolicy) ShouldRotateNow(now time.Time) bool {
	if p.RotationTrigger != TriggerTimeBased {
		return false
	}
	if p.NextRotationAt == nil {
		return false
	}
	return !now.Before(*p.NextRotationAt)
}

// CalculateNextRotation computes the instant of the next rotation: the base
// time advanced by the rotation interval, adjusted onto rotation_time_of_day
// in the policy's timezone. All arithmetic happens in the policy timezone so
// naive/aware mismatches cannot occur.
func (p *KeyRotationPolicy) CalculateNextRotation(from time.Time) (time.Time, error) {
	loc, err := p.location()
	if err != nil {
		return time.Time{}, err
	}

	next := from.In(loc).AddDate(0, 0, p.RotationIntervalDays)
	if p.RotationTimeOfDay != "" {
		tod, err := time.Parse("15:04:05", p.RotationTimeOfDay)
		if err != nil {
			return time.Time{}, fmt.Errorf("rotation_time_of_day %q: %w", p.RotationTimeOfDay, err)
		}
		next = time.Date(next.Year(), next.Month(), next.Day(),
			tod.Hour(), tod.Minute(), tod.Second(), 0, loc)
	}
	return next, nil
}
