// Package audit records security-relevant events for token and key
// lifecycle operations. Every create, revoke, rotate and cleanup leaves an
// audit trail entry; entries never contain token secrets or key material,
// only opaque identifiers.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Actions recorded by the token and key services.
const (
	ActionTokenCreated   = "token.created"
	ActionTokenRevoked   = "token.revoked"
	ActionTokenRotated   = "token.rotated"
	ActionTokenCleanup   = "token.cleanup"
	ActionKeyCreated     = "key.created"
	ActionKeyRotated     = "key.rotated"
	ActionKeyDisabled    = "key.disabled"
	ActionPolicyCreated  = "policy.created"
	ActionPolicyUpdated  = "policy.updated"
	ActionSweepCompleted = "rotation.sweep"
)

// Outcomes for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Event is a single audit trail entry.
type Event struct {
	ID           uuid.UUID  `json:"id"`
	TenantID     string     `json:"tenant_id"`
	Action       string     `json:"action"`
	ResourceType string     `json:"resource_type"`
	ResourceID   *uuid.UUID `json:"resource_id"`
	ActorUserID  *uuid.UUID `json:"actor_user_id"`
	Outcome      string     `json:"outcome"`
	Detail       string     `json:"detail"`
	RecordedAt   time.Time  `json:"recorded_at"`
}

// Recorder persists audit events. Implementations must not fail the calling
// operation on recording errors; callers log and continue.
type Recorder interface {
	Record(ctx context.Context, event *Event) error
}

// ---------------------------------------------------------------------------
// In-memory recorder
// ---------------------------------------------------------------------------

// MemoryRecorder keeps events in memory. Used by tests and the standalone
// CLI commands that run without a database.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(_ context.Context, event *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.RecordedAt.IsZero() {
		event.RecordedAt = time.Now().UTC()
	}
	r.events = append(r.events, *event)
	return nil
}

// Events returns a copy of all recorded events in recording order.
func (r *MemoryRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ByAction returns recorded events matching the given action.
func (r *MemoryRecorder) ByAction(action string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, e := range r.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
