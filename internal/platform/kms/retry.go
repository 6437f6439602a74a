package kms

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// RetryConfig controls the backoff applied to transient provider failures.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint64
}

// DefaultRetryConfig matches the throttling behavior of the cloud KMS APIs:
// a few quick retries, then give up and let the sweep report the failure.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxRetries:      4,
	}
}

// retryingProvider decorates a Provider with exponential backoff on
// transient errors. Permanent errors pass through untouched.
type retryingProvider struct {
	inner  Provider
	cfg    RetryConfig
	logger zerolog.Logger
}

// WithRetry wraps p so that transient failures are retried with exponential
// backoff. Retries never re-run persistence: callers only reach the database
// after the provider call has succeeded.
func WithRetry(p Provider, cfg RetryConfig, logger zerolog.Logger) Provider {
	return &retryingProvider{inner: p, cfg: cfg, logger: logger}
}

func (r *retryingProvider) Name() string { return r.inner.Name() }

func (r *retryingProvider) CreateKey(ctx context.Context, spec KeySpec) (string, error) {
	var id string
	err := r.retry(ctx, "create_key", func() error {
		var err error
		id, err = r.inner.CreateKey(ctx, spec)
		return err
	})
	return id, err
}

func (r *retryingProvider) RotateKey(ctx context.Context, kmsKeyID string) (string, error) {
	var id string
	err := r.retry(ctx, "rotate_key", func() error {
		var err error
		id, err = r.inner.RotateKey(ctx, kmsKeyID)
		return err
	})
	return id, err
}

func (r *retryingProvider) DisableKey(ctx context.Context, kmsKeyID string) error {
	return r.retry(ctx, "disable_key", func() error {
		return r.inner.DisableKey(ctx, kmsKeyID)
	})
}

func (r *retryingProvider) Validate(ctx context.Context) error {
	return r.inner.Validate(ctx)
}

func (r *retryingProvider) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval

	policy := backoff.WithContext(backoff.WithMaxRetries(b, r.cfg.MaxRetries), ctx)

	return backoff.RetryNotify(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		r.logger.Debug().
			Str("provider", r.inner.Name()).
			Str("op", op).
			Dur("wait", wait).
			Err(err).
			Msg("retrying transient kms error")
	})
}
