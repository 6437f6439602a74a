// Package kms abstracts external Key Management Services behind a narrow
// provider interface. Key material never leaves the backing KMS; the rest of
// the system only ever sees opaque provider key identifiers.
package kms

import (
	"context"
	"errors"
	"fmt"
)

// Provider names understood by the registry.
const (
	ProviderLocal = "local"
	ProviderAWS   = "aws-kms"
	ProviderAzure = "azure-keyvault"
	ProviderVault = "hashicorp-vault"
)

// ErrKeyNotFound indicates the referenced key does not exist in the provider.
var ErrKeyNotFound = errors.New("kms key not found")

// KeySpec describes the key to materialize in the KMS.
type KeySpec struct {
	TenantID  string
	KeyName   string
	Algorithm string // e.g. "aes-256-gcm"
}

// Provider is the integration point with an external Key Management Service.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the provider's stable identifier, e.g. "aws-kms".
	Name() string

	// CreateKey materializes new key material and returns an opaque
	// provider-specific key identifier.
	CreateKey(ctx context.Context, spec KeySpec) (string, error)

	// RotateKey generates fresh key material for the lineage of kmsKeyID
	// and returns the identifier of the new material. The old identifier
	// stays usable for decryption until disabled.
	RotateKey(ctx context.Context, kmsKeyID string) (string, error)

	// DisableKey permanently disables key material. Used after the
	// retention window of a rotated key has elapsed.
	DisableKey(ctx context.Context, kmsKeyID string) error

	// Validate checks connectivity and credentials.
	Validate(ctx context.Context) error
}

// ProviderError normalizes provider-specific failures into the taxonomy the
// key service acts on: transient errors are retried, permanent ones surface
// immediately.
type ProviderError struct {
	Provider  string
	Op        string
	KeyID     string
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	if e.KeyID != "" {
		return fmt.Sprintf("kms %s: %s key %s: %v", e.Provider, e.Op, e.KeyID, e.Err)
	}
	return fmt.Sprintf("kms %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err represents a retryable provider failure
// (connectivity, throttling, provider-side outage).
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}

func transientErr(provider, op, keyID string, err error) error {
	return &ProviderError{Provider: provider, Op: op, KeyID: keyID, Transient: true, Err: err}
}

func permanentErr(provider, op, keyID string, err error) error {
	return &ProviderError{Provider: provider, Op: op, KeyID: keyID, Transient: false, Err: err}
}
