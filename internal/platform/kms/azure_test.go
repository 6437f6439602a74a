package kms

import (
	"context"
	"errors"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azkeys"
)

type fakeAzureClient struct {
	rotatedName  string
	disabledName string
	disabledVer  string
	err          error
}

func (f *fakeAzureClient) CreateKey(ctx context.Context, name string, parameters azkeys.CreateKeyParameters, options *azkeys.CreateKeyOptions) (azkeys.CreateKeyResponse, error) {
	if f.err != nil {
		return azkeys.CreateKeyResponse{}, f.err
	}
	kid := azkeys.ID("https://unit.vault.azure.net/keys/" + name + "/v1")
	return azkeys.CreateKeyResponse{
		KeyBundle: azkeys.KeyBundle{Key: &azkeys.JSONWebKey{KID: &kid}},
	}, nil
}

func (f *fakeAzureClient) RotateKey(ctx context.Context, name string, options *azkeys.RotateKeyOptions) (azkeys.RotateKeyResponse, error) {
	if f.err != nil {
		return azkeys.RotateKeyResponse{}, f.err
	}
	f.rotatedName = name
	kid := azkeys.ID("https://unit.vault.azure.net/keys/" + name + "/v2")
	return azkeys.RotateKeyResponse{
		KeyBundle: azkeys.KeyBundle{Key: &azkeys.JSONWebKey{KID: &kid}},
	}, nil
}

func (f *fakeAzureClient) UpdateKey(ctx context.Context, name, version string, parameters azkeys.UpdateKeyParameters, options *azkeys.UpdateKeyOptions) (azkeys.UpdateKeyResponse, error) {
	if f.err != nil {
		return azkeys.UpdateKeyResponse{}, f.err
	}
	f.disabledName, f.disabledVer = name, version
	return azkeys.UpdateKeyResponse{}, nil
}

func (f *fakeAzureClient) GetKey(ctx context.Context, name, version string, options *azkeys.GetKeyOptions) (azkeys.GetKeyResponse, error) {
	if f.err != nil {
		return azkeys.GetKeyResponse{}, f.err
	}
	return azkeys.GetKeyResponse{}, nil
}

func TestAzureProvider_RotateKey_ParsesKeyName(t *testing.T) {
	client := &fakeAzureClient{}
	p := NewAzureProviderWithClient(client)

	newID, err := p.RotateKey(context.Background(), "https://unit.vault.azure.net/keys/pms-t1-phi/abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.rotatedName != "pms-t1-phi" {
		t.Errorf("expected vault key name pms-t1-phi, got %q", client.rotatedName)
	}
	if newID != "https://unit.vault.azure.net/keys/pms-t1-phi/v2" {
		t.Errorf("unexpected rotated key id %q", newID)
	}
}

func TestAzureProvider_RotateKey_MalformedID(t *testing.T) {
	p := NewAzureProviderWithClient(&fakeAzureClient{})

	_, err := p.RotateKey(context.Background(), "not-a-key-identifier")
	if err == nil {
		t.Fatal("expected error for malformed key identifier")
	}
	if IsTransient(err) {
		t.Error("malformed identifier must be permanent, not transient")
	}
}

func TestAzureProvider_DisableKey_ParsesNameAndVersion(t *testing.T) {
	client := &fakeAzureClient{}
	p := NewAzureProviderWithClient(client)

	if err := p.DisableKey(context.Background(), "https://unit.vault.azure.net/keys/pms-t1-phi/abc123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.disabledName != "pms-t1-phi" || client.disabledVer != "abc123" {
		t.Errorf("got name=%q version=%q", client.disabledName, client.disabledVer)
	}
}

func TestAzureProvider_WrapClassifiesStatus(t *testing.T) {
	p := NewAzureProviderWithClient(&fakeAzureClient{})

	notFound := p.wrap("rotate_key", "k", &azcore.ResponseError{StatusCode: 404})
	if !errors.Is(notFound, ErrKeyNotFound) {
		t.Error("404 must map to ErrKeyNotFound")
	}
	if !IsTransient(p.wrap("rotate_key", "k", &azcore.ResponseError{StatusCode: 503})) {
		t.Error("503 must be transient")
	}
	if IsTransient(p.wrap("rotate_key", "k", &azcore.ResponseError{StatusCode: 403})) {
		t.Error("403 must be permanent")
	}
}
