package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pms/pms/internal/platform/db"
)

// PGRecorder writes audit events to the audit_event table.
type PGRecorder struct {
	pool *pgxpool.Pool
}

// NewPGRecorder creates a recorder backed by the given connection pool.
func NewPGRecorder(pool *pgxpool.Pool) *PGRecorder {
	return &PGRecorder{pool: pool}
}

// Record inserts the event. It joins the caller's transaction when one is
// present in context so audit rows commit or roll back with the operation
// they describe.
func (r *PGRecorder) Record(ctx context.Context, event *Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.RecordedAt.IsZero() {
		event.RecordedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO audit_event (
			id, tenant_id, action, resource_type, resource_id,
			actor_user_id, outcome, detail, recorded_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	args := []any{
		event.ID, event.TenantID, event.Action, event.ResourceType, event.ResourceID,
		event.ActorUserID, event.Outcome, event.Detail, event.RecordedAt,
	}

	if tx := db.TxFromContext(ctx); tx != nil {
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("audit record: %w", err)
		}
		return nil
	}

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("audit record: %w", err)
	}
	return nil
}
