package audit

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestMemoryRecorder_Record(t *testing.T) {
	r := NewMemoryRecorder()
	resID := uuid.New()

	err := r.Record(context.Background(), &Event{
		TenantID:     "tenant-1",
		Action:       ActionTokenCreated,
		ResourceType: "auth_token",
		ResourceID:   &resID,
		Outcome:      OutcomeSuccess,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := r.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].ID == uuid.Nil {
		t.Error("expected generated event id")
	}
	if events[0].RecordedAt.IsZero() {
		t.Error("expected recorded_at to be set")
	}
}

func TestMemoryRecorder_ByAction(t *testing.T) {
	r := NewMemoryRecorder()
	for _, action := range []string{ActionKeyRotated, ActionKeyRotated, ActionKeyCreated} {
		if err := r.Record(context.Background(), &Event{TenantID: "t", Action: action, Outcome: OutcomeSuccess}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	if got := len(r.ByAction(ActionKeyRotated)); got != 2 {
		t.Errorf("expected 2 rotation events, got %d", got)
	}
	if got := len(r.ByAction(ActionTokenRevoked)); got != 0 {
		t.Errorf("expected no revocation events, got %d", got)
	}
}
