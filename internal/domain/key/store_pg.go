package key

import (
	"context"
	"errors"
	"fmt"
	"time"

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

type storePG struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a Store backed by the encryption_key table. The
// single-ACTIVE invariant is enforced by a partial unique index on
// (tenant_id, key_name) WHERE status = 'ACTIVE'.
func NewPGStore(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

func (s *storePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

const keyColumns = `id, tenant_id, key_name, version, status, key_type, kms_provider, kms_key_id,
	activated_at, expires_at, rotated_at, parent_key_id, rotation_policy_id,
	created_by_token_id, rotated_by_token_id, created_at`

func (s *storePG) Create(ctx context.Context, k *EncryptionKey) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO encryption_key (
			id, tenant_id, key_name, version, status, key_type, kms_provider, kms_key_id,
			activated_at, expires_at, parent_key_id, rotation_policy_id,
			created_by_token_id, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14
		)`,
		k.ID, k.TenantID, k.KeyName, k.Version, k.Status, k.KeyType, k.KMSProvider, k.KMSKeyID,
		k.ActivatedAt, k.ExpiresAt, k.ParentKeyID, k.RotationPolicyID,
		k.CreatedByTokenID, k.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrActiveKeyExists
	}
	return err
}

func (s *storePG) GetByID(ctx context.Context, id uuid.UUID) (*EncryptionKey, error) {
	return scanKey(s.conn(ctx).QueryRow(ctx,
		`SELECT `+keyColumns+` FROM encryption_key WHERE id = $1`, id))
}

func (s *storePG) GetActive(ctx context.Context, tenantID, keyName string) (*EncryptionKey, error) {
	return scanKey(s.conn(ctx).QueryRow(ctx,
		`SELECT `+keyColumns+` FROM encryption_key
		 WHERE tenant_id = $1 AND key_name = $2 AND status = $3`,
		tenantID, keyName, StatusActive))
}

func (s *storePG) Update(ctx context.Context, k *EncryptionKey) error {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE encryption_key SET
			status = $2, expires_at = $3, rotated_at = $4, rotated_by_token_id = $5
		WHERE id = $1`,
		k.ID, k.Status, k.ExpiresAt, k.RotatedAt, k.RotatedByTokenID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrKeyNotFound
	}
	return nil
}

func (s *storePG) ListActiveByPolicy(ctx context.Context, policyID uuid.UUID) ([]*EncryptionKey, error) {
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT `+keyColumns+` FROM encryption_key
		 WHERE rotation_policy_id = $1 AND status = $2
		 ORDER BY created_at`,
		policyID, StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKeys(rows)
}

func (s *storePG) ListByTenant(ctx context.Context, tenantID string) ([]*EncryptionKey, error) {
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT `+keyColumns+` FROM encryption_key
		 WHERE tenant_id = $1
		 ORDER BY created_at DESC`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKeys(rows)
}

func (s *storePG) ListRotatedBefore(ctx context.Context, cutoff time.Time) ([]*EncryptionKey, error) {
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT `+keyColumns+` FROM encryption_key
		 WHERE status = $1 AND rotated_at < $2
		 ORDER BY rotated_at`,
		StatusRotated, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKeys(rows)
}

func (s *storePG) CreateAndRotate(ctx context.Context, newKey *EncryptionKey, oldID uuid.UUID, rotatedBy *uuid.UUID, now time.Time) error {
	if db.TxFromContext(ctx) != nil {
		return s.createAndRotate(ctx, newKey, oldID, rotatedBy, now)
	}
	return db.RunInTx(ctx, s.pool, func(txCtx context.Context) error {
		return s.createAndRotate(txCtx, newKey, oldID, rotatedBy, now)
	})
}

func (s *storePG) createAndRotate(ctx context.Context, newKey *EncryptionKey, oldID uuid.UUID, rotatedBy *uuid.UUID, now time.Time) error {
	// Flip the old key first so the successor's insert does not trip the
	// partial unique index on ACTIVE keys.
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE encryption_key SET status = $2, rotated_at = $3, rotated_by_token_id = $4
		WHERE id = $1 AND status = $5`,
		oldID, StatusRotated, now, rotatedBy, StatusActive,
	)
	if err != nil {
		return fmt.Errorf("rotate old key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrKeyNotFound
	}
	if err := s.Create(ctx, newKey); err != nil {
		return fmt.Errorf("create successor key: %w", err)
	}
	return nil
}

func scanKey(row pgx.Row) (*EncryptionKey, error) {
	var k EncryptionKey
	err := row.Scan(
		&k.ID, &k.TenantID, &k.KeyName, &k.Version, &k.Status, &k.KeyType, &k.KMSProvider, &k.KMSKeyID,
		&k.ActivatedAt, &k.ExpiresAt, &k.RotatedAt, &k.ParentKeyID, &k.RotationPolicyID,
		&k.CreatedByTokenID, &k.RotatedByTokenID, &k.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func scanKeys(rows pgx.Rows) ([]*EncryptionKey, error) {
	var out []*EncryptionKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
