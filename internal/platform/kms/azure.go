package kms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azkeys"
)

// azureAPI is the subset of the Key Vault keys client the adapter uses.
type azureAPI interface {
	CreateKey(ctx context.Context, name string, parameters azkeys.CreateKeyParameters, options *azkeys.CreateKeyOptions) (azkeys.CreateKeyResponse, error)
	RotateKey(ctx context.Context, name string, options *azkeys.RotateKeyOptions) (azkeys.RotateKeyResponse, error)
	UpdateKey(ctx context.Context, name, version string, parameters azkeys.UpdateKeyParameters, options *azkeys.UpdateKeyOptions) (azkeys.UpdateKeyResponse, error)
	GetKey(ctx context.Context, name, version string, options *azkeys.GetKeyOptions) (azkeys.GetKeyResponse, error)
}

// AzureProvider manages keys in Azure Key Vault. Key Vault versions keys
// natively, so rotation produces a new version under the same vault key name
// and the versioned key identifier is used as the opaque kms_key_id.
type AzureProvider struct {
	client azureAPI
}

// NewAzureProvider authenticates with the default Azure credential chain
// (env, workload identity, managed identity, CLI) against the given vault.
func NewAzureProvider(vaultURL string) (*AzureProvider, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}
	client, err := azkeys.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azure keyvault client: %w", err)
	}
	return &AzureProvider{client: client}, nil
}

// NewAzureProviderWithClient wires a preconstructed client; used by tests.
func NewAzureProviderWithClient(client azureAPI) *AzureProvider {
	return &AzureProvider{client: client}
}

func (p *AzureProvider) Name() string { return ProviderAzure }

// vaultKeyName derives a vault-unique key name from the tenant and key name.
func vaultKeyName(spec KeySpec) string {
	name := fmt.Sprintf("pms-%s-%s", spec.TenantID, spec.KeyName)
	return strings.ReplaceAll(name, "_", "-")
}

func (p *AzureProvider) CreateKey(ctx context.Context, spec KeySpec) (string, error) {
	resp, err := p.client.CreateKey(ctx, vaultKeyName(spec), azkeys.CreateKeyParameters{
		Kty:     to.Ptr(azkeys.KeyTypeRSA),
		KeySize: to.Ptr(int32(2048)),
		KeyOps: []*azkeys.KeyOperation{
			to.Ptr(azkeys.KeyOperationWrapKey),
			to.Ptr(azkeys.KeyOperationUnwrapKey),
		},
		Tags: map[string]*string{
			"pms-tenant":    to.Ptr(spec.TenantID),
			"pms-key-name":  to.Ptr(spec.KeyName),
			"pms-algorithm": to.Ptr(spec.Algorithm),
		},
	}, nil)
	if err != nil {
		return "", p.wrap("create_key", "", err)
	}
	return string(*resp.Key.KID), nil
}

func (p *AzureProvider) RotateKey(ctx context.Context, kmsKeyID string) (string, error) {
	id := azkeys.ID(kmsKeyID)
	name := id.Name()
	if name == "" {
		return "", permanentErr(ProviderAzure, "rotate_key", kmsKeyID, fmt.Errorf("malformed key identifier"))
	}

	resp, err := p.client.RotateKey(ctx, name, nil)
	if err != nil {
		return "", p.wrap("rotate_key", kmsKeyID, err)
	}
	return string(*resp.Key.KID), nil
}

func (p *AzureProvider) DisableKey(ctx context.Context, kmsKeyID string) error {
	id := azkeys.ID(kmsKeyID)
	name, version := id.Name(), id.Version()
	if name == "" || version == "" {
		return permanentErr(ProviderAzure, "disable_key", kmsKeyID, fmt.Errorf("malformed key identifier"))
	}

	_, err := p.client.UpdateKey(ctx, name, version, azkeys.UpdateKeyParameters{
		KeyAttributes: &azkeys.KeyAttributes{Enabled: to.Ptr(false)},
	}, nil)
	if err != nil {
		return p.wrap("disable_key", kmsKeyID, err)
	}
	return nil
}

func (p *AzureProvider) Validate(ctx context.Context) error {
	// A 404 here still proves connectivity and credentials are good.
	_, err := p.client.GetKey(ctx, "pms-validate-probe", "", nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return nil
		}
		return p.wrap("validate", "", err)
	}
	return nil
}

// wrap classifies Key Vault failures by HTTP status.
func (p *AzureProvider) wrap(op, keyID string, err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == 404:
			return permanentErr(ProviderAzure, op, keyID, ErrKeyNotFound)
		case respErr.StatusCode == 408 || respErr.StatusCode == 429 || respErr.StatusCode >= 500:
			return transientErr(ProviderAzure, op, keyID, err)
		default:
			return permanentErr(ProviderAzure, op, keyID, err)
		}
	}
	return transientErr(ProviderAzure, op, keyID, err)
}
