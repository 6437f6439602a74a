// Package key manages tenant encryption key metadata and its lifecycle
// against external KMS providers. Key material never leaves the KMS; this
// package only tracks versions, status and provider references.
package key

import (
	"time"

	"github.com/google/uuid"
)

// KeyStatus is the key state machine. ROTATED and REVOKED are terminal.
type KeyStatus string

const (
	StatusActive  KeyStatus = "ACTIVE"
	StatusExpired KeyStatus = "EXPIRED"
	StatusRevoked KeyStatus = "REVOKED"
	StatusRotated KeyStatus = "ROTATED"
)

// Terminal reports whether the status permits no further transition.
func (s KeyStatus) Terminal() bool {
	return s == StatusRotated || s == StatusRevoked
}

// EncryptionKey maps to the encryption_key table. Versions form a chain via
// ParentKeyID; exactly one key per (tenant_id, key_name) is ACTIVE at a time.
type EncryptionKey struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	TenantID         string     `db:"tenant_id" json:"tenant_id"`
	KeyName          string     `db:"key_name" json:"key_name"`
	Version          int        `db:"version" json:"version"`
	Status           KeyStatus  `db:"status" json:"status"`
	KeyType          string     `db:"key_type" json:"key_type"`
	KMSProvider      string     `db:"kms_provider" json:"kms_provider"`
	KMSKeyID         string     `db:"kms_key_id" json:"kms_key_id"`
	ActivatedAt      time.Time  `db:"activated_at" json:"activated_at"`
	ExpiresAt        *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	RotatedAt        *time.Time `db:"rotated_at" json:"rotated_at,omitempty"`
	ParentKeyID      *uuid.UUID `db:"parent_key_id" json:"parent_key_id,omitempty"`
	RotationPolicyID *uuid.UUID `db:"rotation_policy_id" json:"rotation_policy_id,omitempty"`
	CreatedByTokenID *uuid.UUID `db:"created_by_token_id" json:"created_by_token_id,omitempty"`
	RotatedByTokenID *uuid.UUID `db:"rotated_by_token_id" json:"rotated_by_token_id,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}
