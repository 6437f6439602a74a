package rotation

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func basePolicy() *KeyRotationPolicy {
	return &KeyRotationPolicy{
		ID:                   uuid.New(),
		TenantID:             "tenant-1",
		PolicyName:           "phi-keys",
		KMSProvider:          "local",
		RotationTrigger:      TriggerTimeBased,
		Status:               PolicyActive,
		RotationIntervalDays: 1,
		RotationTimeOfDay:    "02:00:00",
		Timezone:             "America/New_York",
	}
}

func TestPolicy_Validate(t *testing.T) {
	if err := basePolicy().Validate(); err != nil {
		t.Errorf("base policy should validate: %v", err)
	}

	p := basePolicy()
	p.TenantID = ""
	if err := p.Validate(); err == nil {
		t.Error("expected error for missing tenant")
	}

	p = basePolicy()
	p.RotationTrigger = "HOURLY"
	if err := p.Validate(); err == nil {
		t.Error("expected error for unknown trigger")
	}

	p = basePolicy()
	p.RotationIntervalDays = 0
	if err := p.Validate(); err == nil {
		t.Error("expected error for non-positive interval on time-based policy")
	}

	p = basePolicy()
	p.RotationTimeOfDay = "2am"
	if err := p.Validate(); err == nil {
		t.Error("expected error for malformed time of day")
	}

	p = basePolicy()
	p.Timezone = "Nowhere/Null_Island"
	if err := p.Validate(); err == nil {
		t.Error("expected error for unknown timezone")
	}

	// MANUAL policies do not need an interval.
	p = basePolicy()
	p.RotationTrigger = TriggerManual
	p.RotationIntervalDays = 0
	if err := p.Validate(); err != nil {
		t.Errorf("manual policy without interval should validate: %v", err)
	}
}

func TestShouldRotateNow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	p := basePolicy()
	p.NextRotationAt = &past
	if !p.ShouldRotateNow(now) {
		t.Error("time-based policy past next_rotation_at must be due")
	}

	p.NextRotationAt = &future
	if p.ShouldRotateNow(now) {
		t.Error("policy before next_rotation_at must not be due")
	}

	p.NextRotationAt = nil
	if p.ShouldRotateNow(now) {
		t.Error("policy without next_rotation_at must not be due")
	}

	// Manual, usage and event triggers never auto-fire, even when overdue.
	for _, trigger := range []RotationTrigger{TriggerManual, TriggerUsageBased, TriggerEventBased} {
		p := basePolicy()
		p.RotationTrigger = trigger
		p.NextRotationAt = &past
		if p.ShouldRotateNow(now) {
			t.Errorf("%s policy must never auto-fire", trigger)
		}
	}
}

func TestCalculateNextRotation(t *testing.T) {
	p := basePolicy() // 1 day interval, 02:00:00, America/New_York

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	from := time.Date(2026, 3, 1, 14, 30, 45, 0, time.UTC)
	next, err := p.CalculateNextRotation(from)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}

	want := time.Date(2026, 3, 2, 2, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Errorf("expected %s, got %s", want, next)
	}

	// Deterministic: recomputing from the same base yields the same instant.
	again, err := p.CalculateNextRotation(from)
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if !again.Equal(next) {
		t.Error("next rotation must be deterministic")
	}
}

func TestCalculateNextRotation_NoTimeOfDay(t *testing.T) {
	p := basePolicy()
	p.RotationTimeOfDay = ""
	p.Timezone = ""
	p.RotationIntervalDays = 7

	from := time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)
	next, err := p.CalculateNextRotation(from)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if !next.Equal(from.AddDate(0, 0, 7)) {
		t.Errorf("expected plain interval advance, got %s", next)
	}
}

func TestCalculateNextRotation_DSTBoundary(t *testing.T) {
	p := basePolicy() // America/New_York, 02:00:00

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	// 2026-03-08 is the US spring-forward date; the wall clock skips from
	// 02:00 to 03:00. The computed instant must still be well-defined.
	from := time.Date(2026, 3, 7, 12, 0, 0, 0, loc)
	next, err := p.CalculateNextRotation(from)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if next.Before(from) {
		t.Error("next rotation must be after the base time")
	}
	if next.Day() != 8 {
		t.Errorf("expected rotation on the 8th, got %s", next)
	}
}
