// Package token implements the authentication token lifecycle: issuance,
// validation, revocation, rotation chains, and expired-token cleanup. Token
// secrets are never stored; only a SHA-256 hash is persisted.
package token

import (
	"time"

	"github.com/google/uuid"
)

// TokenType discriminates the issued credential kinds.
type TokenType string

const (
	TypeAccess            TokenType = "ACCESS"
	TypeRefresh           TokenType = "REFRESH"
	TypeAPIKey            TokenType = "API_KEY"
	TypeResetPassword     TokenType = "RESET_PASSWORD"
	TypeEmailVerification TokenType = "EMAIL_VERIFICATION"
)

// Valid reports whether t is a known token type.
func (t TokenType) Valid() bool {
	switch t {
	case TypeAccess, TypeRefresh, TypeAPIKey, TypeResetPassword, TypeEmailVerification:
		return true
	}
	return false
}

// DefaultLifetime returns the issuance lifetime used when the caller does not
// supply one.
func (t TokenType) DefaultLifetime() time.Duration {
	switch t {
	case TypeAccess:
		return time.Hour
	case TypeRefresh:
		return 30 * 24 * time.Hour
	case TypeAPIKey:
		return 365 * 24 * time.Hour
	case TypeResetPassword:
		return time.Hour
	case TypeEmailVerification:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// TokenStatus is the token state machine. A token transitions only from
// ACTIVE into one of the terminal states; EXPIRED, REVOKED and USED permit no
// further transition.
type TokenStatus string

const (
	StatusActive  TokenStatus = "ACTIVE"
	StatusExpired TokenStatus = "EXPIRED"
	StatusRevoked TokenStatus = "REVOKED"
	StatusUsed    TokenStatus = "USED"
)

// Terminal reports whether the status permits no further transition.
func (s TokenStatus) Terminal() bool {
	return s == StatusExpired || s == StatusRevoked || s == StatusUsed
}

// AuthToken maps to the auth_token table. The secret itself is unrecoverable:
// TokenHash holds its SHA-256 and client fingerprints are stored hashed.
type AuthToken struct {
	ID            uuid.UUID   `db:"id" json:"id"`
	TokenHash     string      `db:"token_hash" json:"-"` // never serialize
	TokenPrefix   string      `db:"token_prefix" json:"token_prefix"`
	TokenType     TokenType   `db:"token_type" json:"token_type"`
	Status        TokenStatus `db:"status" json:"status"`
	UserID        *uuid.UUID  `db:"user_id" json:"user_id,omitempty"` // nil denotes a system token
	Scopes        []string    `db:"scopes" json:"scopes"`
	Issuer        string      `db:"issuer" json:"issuer"`
	Audience      string      `db:"audience" json:"audience"`
	IssuedAt      time.Time   `db:"issued_at" json:"issued_at"`
	ExpiresAt     time.Time   `db:"expires_at" json:"expires_at"`
	LastUsedAt    *time.Time  `db:"last_used_at" json:"last_used_at,omitempty"`
	RevokedAt     *time.Time  `db:"revoked_at" json:"revoked_at,omitempty"`
	RevokedReason string      `db:"revoked_reason" json:"revoked_reason,omitempty"`
	RotationCount int         `db:"rotation_count" json:"rotation_count"`
	ParentTokenID *uuid.UUID  `db:"parent_token_id" json:"parent_token_id,omitempty"`
	ClientIPHash  string      `db:"client_ip_hash" json:"-"`
	UserAgentHash string      `db:"user_agent_hash" json:"-"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
}

// IsActive reports whether the token is usable at the given instant: status
// ACTIVE and not yet past its expiry.
func (t *AuthToken) IsActive(now time.Time) bool {
	return t.Status == StatusActive && now.Before(t.ExpiresAt)
}
