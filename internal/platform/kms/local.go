package kms

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
)

// LocalProvider is an in-process KMS used for development and tests. Key
// material is generated but never exposed; only opaque identifiers leave the
// provider, mirroring the contract of the cloud providers.
type LocalProvider struct {
	mu       sync.Mutex
	keys     map[string]localKey
	versions map[string]int // lineage -> latest version

	// FailNext, when set, makes the next N calls fail with the given
	// error. Used by tests to exercise failure handling.
	failErr   error
	failCount int
}

type localKey struct {
	lineage  string
	version  int
	disabled bool
}

// NewLocalProvider creates an empty local KMS.
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{
		keys:     make(map[string]localKey),
		versions: make(map[string]int),
	}
}

// FailNext makes the next n provider calls return err.
func (p *LocalProvider) FailNext(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failCount = n
	p.failErr = err
}

func (p *LocalProvider) takeFailure() error {
	if p.failCount > 0 {
		p.failCount--
		return p.failErr
	}
	return nil
}

func (p *LocalProvider) Name() string { return ProviderLocal }

func (p *LocalProvider) CreateKey(_ context.Context, spec KeySpec) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.takeFailure(); err != nil {
		return "", err
	}

	if spec.TenantID == "" || spec.KeyName == "" {
		return "", permanentErr(ProviderLocal, "create_key", "", fmt.Errorf("tenant and key name are required"))
	}

	lineage := spec.TenantID + "/" + spec.KeyName
	p.versions[lineage]++
	id := p.keyID(lineage, p.versions[lineage])
	p.keys[id] = localKey{lineage: lineage, version: p.versions[lineage]}
	return id, nil
}

func (p *LocalProvider) RotateKey(_ context.Context, kmsKeyID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.takeFailure(); err != nil {
		return "", err
	}

	k, ok := p.keys[kmsKeyID]
	if !ok {
		return "", permanentErr(ProviderLocal, "rotate_key", kmsKeyID, ErrKeyNotFound)
	}

	p.versions[k.lineage]++
	id := p.keyID(k.lineage, p.versions[k.lineage])
	p.keys[id] = localKey{lineage: k.lineage, version: p.versions[k.lineage]}
	return id, nil
}

func (p *LocalProvider) DisableKey(_ context.Context, kmsKeyID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.takeFailure(); err != nil {
		return err
	}

	k, ok := p.keys[kmsKeyID]
	if !ok {
		return permanentErr(ProviderLocal, "disable_key", kmsKeyID, ErrKeyNotFound)
	}
	k.disabled = true
	p.keys[kmsKeyID] = k
	return nil
}

func (p *LocalProvider) Validate(context.Context) error { return nil }

// IsDisabled reports whether the key material behind kmsKeyID is disabled.
func (p *LocalProvider) IsDisabled(kmsKeyID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keys[kmsKeyID].disabled
}

// keyID builds an opaque identifier. A random suffix keeps identifiers
// non-guessable even though the local provider is never used in production.
func (p *LocalProvider) keyID(lineage string, version int) string {
	suffix := make([]byte, 8)
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("local:%s:v%d:%s", strings.ReplaceAll(lineage, ":", "_"), version, hex.EncodeToString(suffix))
}
