package rotation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pms/pms/internal/platform/db"
)

type queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type policyStorePG struct {
	pool *pgxpool.Pool
}

// NewPGPolicyStore creates a PolicyStore backed by the key_rotation_policy table.
func NewPGPolicyStore(pool *pgxpool.Pool) PolicyStore {
	return &policyStorePG{pool: pool}
}

func (s *policyStorePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

const policyColumns = `id, tenant_id, policy_name, key_type, kms_provider, rotation_trigger, status,
	rotation_interval_days, rotation_time_of_day, timezone, last_rotation_at, next_rotation_at,
	enable_rollback, rollback_period_hours, retain_old_keys_days, created_at, updated_at`

func (s *policyStorePG) Create(ctx context.Context, p *KeyRotationPolicy) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO key_rotation_policy (
			id, tenant_id, policy_name, key_type, kms_provider, rotation_trigger, status,
			rotation_interval_days, rotation_time_of_day, timezone, last_rotation_at, next_rotation_at,
			enable_rollback, rollback_period_hours, retain_old_keys_days, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17
		)`,
		p.ID, p.TenantID, p.PolicyName, p.KeyType, p.KMSProvider, p.RotationTrigger, p.Status,
		p.RotationIntervalDays, p.RotationTimeOfDay, p.Timezone, p.LastRotationAt, p.NextRotationAt,
		p.EnableRollback, p.RollbackPeriodHours, p.RetainOldKeysDays, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (s *policyStorePG) GetByID(ctx context.Context, id uuid.UUID) (*KeyRotationPolicy, error) {
	return scanPolicy(s.conn(ctx).QueryRow(ctx,
		`SELECT `+policyColumns+` FROM key_rotation_policy WHERE id = $1`, id))
}

func (s *policyStorePG) Update(ctx context.Context, p *KeyRotationPolicy) error {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE key_rotation_policy SET
			policy_name = $2, key_type = $3, kms_provider = $4, rotation_trigger = $5, status = $6,
			rotation_interval_days = $7, rotation_time_of_day = $8, timezone = $9,
			last_rotation_at = $10, next_rotation_at = $11,
			enable_rollback = $12, rollback_period_hours = $13, retain_old_keys_days = $14,
			updated_at = NOW()
		WHERE id = $1`,
		p.ID, p.PolicyName, p.KeyType, p.KMSProvider, p.RotationTrigger, p.Status,
		p.RotationIntervalDays, p.RotationTimeOfDay, p.Timezone,
		p.LastRotationAt, p.NextRotationAt,
		p.EnableRollback, p.RollbackPeriodHours, p.RetainOldKeysDays,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

func (s *policyStorePG) ListActive(ctx context.Context) ([]*KeyRotationPolicy, error) {
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT `+policyColumns+` FROM key_rotation_policy WHERE status = $1 ORDER BY created_at`,
		PolicyActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPolicies(rows)
}

func (s *policyStorePG) ListByTenant(ctx context.Context, tenantID string) ([]*KeyRotationPolicy, error) {
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT `+policyColumns+` FROM key_rotation_policy WHERE tenant_id = $1 ORDER BY created_at`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPolicies(rows)
}

func scanPolicy(row pgx.Row) (*KeyRotationPolicy, error) {
	var p KeyRotationPolicy
	err := row.Scan(
		&p.ID, &p.TenantID, &p.PolicyName, &p.KeyType, &p.KMSProvider, &p.RotationTrigger, &p.Status,
		&p.RotationIntervalDays, &p.RotationTimeOfDay, &p.Timezone, &p.LastRotationAt, &p.NextRotationAt,
		&p.EnableRollback, &p.RollbackPeriodHours, &p.RetainOldKeysDays, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPolicyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPolicies(rows pgx.Rows) ([]*KeyRotationPolicy, error) {
	var out []*KeyRotationPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
