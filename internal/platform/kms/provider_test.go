package kms

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestProviderError_Unwrap(t *testing.T) {
	base := errors.New("timeout")
	err := transientErr(ProviderAWS, "create_key", "abc", base)
	if !errors.Is(err, base) {
		t.Error("ProviderError must unwrap to the underlying error")
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(errors.New("plain")) {
		t.Error("plain error must not be transient")
	}
	if IsTransient(permanentErr(ProviderVault, "rotate_key", "k", errors.New("denied"))) {
		t.Error("permanent ProviderError must not be transient")
	}
	if !IsTransient(transientErr(ProviderAzure, "disable_key", "k", errors.New("503"))) {
		t.Error("transient ProviderError must be transient")
	}
}

func TestParseVaultKeyID(t *testing.T) {
	name, version, err := parseVaultKeyID("vault:pms-t1-phi:v7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "pms-t1-phi" || version != 7 {
		t.Errorf("got name=%s version=%d", name, version)
	}

	for _, bad := range []string{"", "vault:name", "aws:name:v1", "vault:name:seven"} {
		if _, _, err := parseVaultKeyID(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestRegistry_GetAndNames(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewLocalProvider())

	p, err := reg.Get(ProviderLocal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != ProviderLocal {
		t.Errorf("expected %s, got %s", ProviderLocal, p.Name())
	}

	if _, err := reg.Get("gcp-kms"); err == nil {
		t.Error("expected error for unregistered provider")
	}

	names := reg.Names()
	if len(names) != 1 || names[0] != ProviderLocal {
		t.Errorf("unexpected names: %v", names)
	}
}

func TestBuildRegistry_LocalOnly(t *testing.T) {
	reg, err := BuildRegistry(context.Background(), RegistryConfig{Retry: DefaultRetryConfig()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := reg.Get(ProviderLocal); err != nil {
		t.Errorf("local provider must always be registered: %v", err)
	}
	if _, err := reg.Get(ProviderAWS); err == nil {
		t.Error("aws provider must not be registered without a region")
	}
}
