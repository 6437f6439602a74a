package kms

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Registry holds the configured KMS providers, keyed by provider name.
// Services look providers up by the kms_provider field on keys and policies.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider under its own name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown kms provider: %s", name)
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegistryConfig selects which providers to construct at startup.
type RegistryConfig struct {
	AWSRegion     string
	AzureVaultURL string
	VaultAddr     string
	VaultToken    string
	VaultMount    string
	Retry         RetryConfig
}

// BuildRegistry constructs the registry from configuration. The local
// provider is always registered; cloud providers are added only when their
// configuration is present. All providers are wrapped with transient retry.
func BuildRegistry(ctx context.Context, cfg RegistryConfig, logger zerolog.Logger) (*Registry, error) {
	reg := NewRegistry()
	reg.Register(WithRetry(NewLocalProvider(), cfg.Retry, logger))

	if cfg.AWSRegion != "" {
		p, err := NewAWSProvider(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, fmt.Errorf("aws kms provider: %w", err)
		}
		reg.Register(WithRetry(p, cfg.Retry, logger))
	}

	if cfg.AzureVaultURL != "" {
		p, err := NewAzureProvider(cfg.AzureVaultURL)
		if err != nil {
			return nil, fmt.Errorf("azure keyvault provider: %w", err)
		}
		reg.Register(WithRetry(p, cfg.Retry, logger))
	}

	if cfg.VaultAddr != "" {
		p, err := NewVaultProvider(cfg.VaultAddr, cfg.VaultToken, cfg.VaultMount)
		if err != nil {
			return nil, fmt.Errorf("vault transit provider: %w", err)
		}
		reg.Register(WithRetry(p, cfg.Retry, logger))
	}

	return reg, nil
}
