package kms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	vaultapi "github.com/hashicorp/vault/api"
)

// vaultLogical is the subset of the Vault logical client the adapter uses.
type vaultLogical interface {
	ReadWithContext(ctx context.Context, path string) (*vaultapi.Secret, error)
	WriteWithContext(ctx context.Context, path string, data map[string]interface{}) (*vaultapi.Secret, error)
}

// VaultProvider manages keys in the HashiCorp Vault transit engine. Transit
// versions key material under a named key; the opaque identifier encodes the
// key name and version ("vault:<name>:v<n>").
type VaultProvider struct {
	logical vaultLogical
	mount   string
}

// NewVaultProvider connects to Vault at addr with the given token. The
// transit engine is expected to be mounted at mount (usually "transit").
func NewVaultProvider(addr, token, mount string) (*VaultProvider, error) {
	cfg := vaultapi.DefaultConfig()
	cfg.Address = addr

	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	client.SetToken(token)

	if mount == "" {
		mount = "transit"
	}
	return &VaultProvider{logical: client.Logical(), mount: mount}, nil
}

// NewVaultProviderWithLogical wires a preconstructed logical client; used by tests.
func NewVaultProviderWithLogical(logical vaultLogical, mount string) *VaultProvider {
	if mount == "" {
		mount = "transit"
	}
	return &VaultProvider{logical: logical, mount: mount}
}

func (p *VaultProvider) Name() string { return ProviderVault }

func (p *VaultProvider) CreateKey(ctx context.Context, spec KeySpec) (string, error) {
	name := transitKeyName(spec)
	_, err := p.logical.WriteWithContext(ctx, p.mount+"/keys/"+name, map[string]interface{}{
		"type": "aes256-gcm96",
	})
	if err != nil {
		return "", p.wrap("create_key", "", err)
	}

	version, err := p.latestVersion(ctx, name)
	if err != nil {
		return "", p.wrap("create_key", "", err)
	}
	return vaultKeyID(name, version), nil
}

func (p *VaultProvider) RotateKey(ctx context.Context, kmsKeyID string) (string, error) {
	name, _, err := parseVaultKeyID(kmsKeyID)
	if err != nil {
		return "", permanentErr(ProviderVault, "rotate_key", kmsKeyID, err)
	}

	if _, err := p.logical.WriteWithContext(ctx, p.mount+"/keys/"+name+"/rotate", nil); err != nil {
		return "", p.wrap("rotate_key", kmsKeyID, err)
	}

	version, err := p.latestVersion(ctx, name)
	if err != nil {
		return "", p.wrap("rotate_key", kmsKeyID, err)
	}
	return vaultKeyID(name, version), nil
}

// DisableKey raises the transit key's min_decryption_version past the given
// version, which is how transit retires old key material.
func (p *VaultProvider) DisableKey(ctx context.Context, kmsKeyID string) error {
	name, version, err := parseVaultKeyID(kmsKeyID)
	if err != nil {
		return permanentErr(ProviderVault, "disable_key", kmsKeyID, err)
	}

	_, err = p.logical.WriteWithContext(ctx, p.mount+"/keys/"+name+"/config", map[string]interface{}{
		"min_decryption_version": version + 1,
	})
	if err != nil {
		return p.wrap("disable_key", kmsKeyID, err)
	}
	return nil
}

func (p *VaultProvider) Validate(ctx context.Context) error {
	if _, err := p.logical.ReadWithContext(ctx, p.mount+"/keys"); err != nil {
		return p.wrap("validate", "", err)
	}
	return nil
}

func (p *VaultProvider) latestVersion(ctx context.Context, name string) (int, error) {
	secret, err := p.logical.ReadWithContext(ctx, p.mount+"/keys/"+name)
	if err != nil {
		return 0, err
	}
	if secret == nil || secret.Data == nil {
		return 0, fmt.Errorf("transit key %s: empty read", name)
	}

	switch v := secret.Data["latest_version"].(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("transit key %s: bad latest_version: %w", name, err)
		}
		return int(n), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("transit key %s: missing latest_version", name)
	}
}

// wrap classifies Vault failures by HTTP status.
func (p *VaultProvider) wrap(op, keyID string, err error) error {
	var respErr *vaultapi.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == 404:
			return permanentErr(ProviderVault, op, keyID, ErrKeyNotFound)
		case respErr.StatusCode == 429 || respErr.StatusCode == 472 || respErr.StatusCode == 473 || respErr.StatusCode >= 500:
			return transientErr(ProviderVault, op, keyID, err)
		default:
			return permanentErr(ProviderVault, op, keyID, err)
		}
	}
	return transientErr(ProviderVault, op, keyID, err)
}

func transitKeyName(spec KeySpec) string {
	return strings.ReplaceAll(fmt.Sprintf("pms-%s-%s", spec.TenantID, spec.KeyName), "_", "-")
}

func vaultKeyID(name string, version int) string {
	return fmt.Sprintf("vault:%s:v%d", name, version)
}

func parseVaultKeyID(id string) (string, int, error) {
	parts := strings.Split(id, ":")
	if len(parts) != 3 || parts[0] != "vault" || !strings.HasPrefix(parts[2], "v") {
		return "", 0, fmt.Errorf("malformed vault key identifier %q", id)
	}
	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v"))
	if err != nil {
		return "", 0, fmt.Errorf("malformed vault key identifier %q: %w", id, err)
	}
	return parts[1], version, nil
}
