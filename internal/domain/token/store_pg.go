package token

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

// queryable is the subset of pgx shared by pools, connections and transactions.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type storePG struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a Store backed by the auth_token table.
func NewPGStore(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

func (s *storePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

const tokenColumns = `id, token_hash, token_prefix, token_type, status, user_id, scopes,
	issuer, audience, issued_at, expires_at, last_used_at, revoked_at, revoked_reason,
	rotation_count, parent_token_id, client_ip_hash, user_agent_hash, created_at`

func (s *storePG) Create(ctx context.Context, t *AuthToken) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO auth_token (
			id, token_hash, token_prefix, token_type, status, user_id, scopes,
			issuer, audience, issued_at, expires_at,
			rotation_count, parent_token_id, client_ip_hash, user_agent_hash, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15, $16
		)`,
		t.ID, t.TokenHash, t.TokenPrefix, t.TokenType, t.Status, t.UserID, t.Scopes,
		t.Issuer, t.Audience, t.IssuedAt, t.ExpiresAt,
		t.RotationCount, t.ParentTokenID, t.ClientIPHash, t.UserAgentHash, t.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateTokenHash
	}
	return err
}

func (s *storePG) GetByID(ctx context.Context, id uuid.UUID) (*AuthToken, error) {
	return scanToken(s.conn(ctx).QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM auth_token WHERE id = $1`, id))
}

func (s *storePG) GetByHash(ctx context.Context, hash string) (*AuthToken, error) {
	return scanToken(s.conn(ctx).QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM auth_token WHERE token_hash = $1`, hash))
}

func (s *storePG) Update(ctx context.Context, t *AuthToken) error {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE auth_token SET
			status = $2, last_used_at = $3, revoked_at = $4, revoked_reason = $5,
			rotation_count = $6
		WHERE id = $1`,
		t.ID, t.Status, t.LastUsedAt, t.RevokedAt, t.RevokedReason,
		t.RotationCount,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTokenNotFound
	}
	return nil
}

func (s *storePG) CreateAndRevoke(ctx context.Context, newToken *AuthToken, oldID uuid.UUID, reason string, now time.Time) error {
	// Join the caller's transaction when present, otherwise open one: the
	// insert and the revoke must commit together.
	if db.TxFromContext(ctx) != nil {
		return s.createAndRevoke(ctx, newToken, oldID, reason, now)
	}
	return db.RunInTx(ctx, s.pool, func(txCtx context.Context) error {
		return s.createAndRevoke(txCtx, newToken, oldID, reason, now)
	})
}

func (s *storePG) createAndRevoke(ctx context.Context, newToken *AuthToken, oldID uuid.UUID, reason string, now time.Time) error {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE auth_token SET status = $2, revoked_at = $3, revoked_reason = $4
		WHERE id = $1`,
		oldID, StatusRevoked, now, reason,
	)
	if err != nil {
		return fmt.Errorf("revoke old token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTokenNotFound
	}
	if err := s.Create(ctx, newToken); err != nil {
		return fmt.Errorf("create rotated token: %w", err)
	}
	return nil
}

func (s *storePG) RevokeActiveByUser(ctx context.Context, userID uuid.UUID, reason string, now time.Time) (int, error) {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE auth_token SET status = $2, revoked_at = $3, revoked_reason = $4
		WHERE user_id = $1 AND status = $5`,
		userID, StatusRevoked, now, reason, StatusActive,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *storePG) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE auth_token SET status = $1
		WHERE status = $2 AND expires_at <= $3`,
		StatusExpired, StatusActive, now,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *storePG) DeleteTerminal(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.conn(ctx).Exec(ctx, `
		DELETE FROM auth_token
		WHERE status IN ($1, $2, $3)
		  AND COALESCE(revoked_at, expires_at) < $4`,
		StatusExpired, StatusRevoked, StatusUsed, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanToken(row pgx.Row) (*AuthToken, error) {
	var t AuthToken
	err := row.Scan(
		&t.ID, &t.TokenHash, &t.TokenPrefix, &t.TokenType, &t.Status, &t.UserID, &t.Scopes,
		&t.Issuer, &t.Audience, &t.IssuedAt, &t.ExpiresAt, &t.LastUsedAt, &t.RevokedAt, &t.RevokedReason,
		&t.RotationCount, &t.ParentTokenID, &t.ClientIPHash, &t.UserAgentHash, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
