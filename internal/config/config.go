package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	// KMS providers. The local provider is always available; cloud providers
	// are registered only when configured.
	AWSRegion     string `mapstructure:"AWS_KMS_REGION"`
	AzureVaultURL string `mapstructure:"AZURE_KEYVAULT_URL"`
	VaultAddr     string `mapstructure:"VAULT_ADDR"`
	VaultToken    string `mapstructure:"VAULT_TOKEN"`
	VaultMount    string `mapstructure:"VAULT_TRANSIT_MOUNT"`

	// Rotation scheduler.
	SweepInterval time.Duration `mapstructure:"ROTATION_SWEEP_INTERVAL"`
	DefaultTZ     string        `mapstructure:"ROTATION_DEFAULT_TZ"`

	// Token lifecycle.
	CleanupRetention time.Duration `mapstructure:"TOKEN_CLEANUP_RETENTION"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("VAULT_TRANSIT_MOUNT", "transit")
	v.SetDefault("ROTATION_SWEEP_INTERVAL", "1h")
	v.SetDefault("ROTATION_DEFAULT_TZ", "UTC")
	v.SetDefault("TOKEN_CLEANUP_RETENTION", "720h")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AWS_KMS_REGION")
	v.BindEnv("AZURE_KEYVAULT_URL")
	v.BindEnv("VAULT_ADDR")
	v.BindEnv("VAULT_TOKEN")
	v.BindEnv("VAULT_TRANSIT_MOUNT")
	v.BindEnv("ROTATION_SWEEP_INTERVAL")
	v.BindEnv("ROTATION_DEFAULT_TZ")
	v.BindEnv("TOKEN_CLEANUP_RETENTION")
	v.BindEnv("TLS_ENABLED")
	v.BindEnv("TLS_CERT_FILE")
	v.BindEnv("TLS_KEY_FILE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Vault needs a token
// when an address is set, the sweep interval must be positive, and the
// default timezone must parse.
func (c *Config) Validate() error {
	if c.VaultAddr != "" && c.VaultToken == "" {
		return fmt.Errorf("VAULT_TOKEN is required when VAULT_ADDR is set")
	}

	if c.SweepInterval <= 0 {
		return fmt.Errorf("ROTATION_SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	if c.CleanupRetention < 0 {
		return fmt.Errorf("TOKEN_CLEANUP_RETENTION must not be negative, got %s", c.CleanupRetention)
	}

	if _, err := time.LoadLocation(c.DefaultTZ); err != nil {
		return fmt.Errorf("ROTATION_DEFAULT_TZ %q is not a valid timezone: %w", c.DefaultTZ, err)
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
