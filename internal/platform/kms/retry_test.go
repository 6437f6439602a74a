package kms

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// countingProvider fails a fixed number of times, then succeeds.
type countingProvider struct {
	calls    atomic.Int64
	failures int
	err      error
}

func (c *countingProvider) Name() string { return "counting" }

func (c *countingProvider) CreateKey(context.Context, KeySpec) (string, error) {
	n := c.calls.Add(1)
	if int(n) <= c.failures {
		return "", c.err
	}
	return "counting:key", nil
}

func (c *countingProvider) RotateKey(ctx context.Context, id string) (string, error) {
	_, err := c.CreateKey(ctx, KeySpec{})
	if err != nil {
		return "", err
	}
	return "counting:key:rotated", nil
}

func (c *countingProvider) DisableKey(ctx context.Context, id string) error {
	_, err := c.CreateKey(ctx, KeySpec{})
	return err
}

func (c *countingProvider) Validate(context.Context) error { return nil }

func fastRetry() RetryConfig {
	return RetryConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxRetries:      5,
	}
}

func TestWithRetry_TransientRetriedUntilSuccess(t *testing.T) {
	inner := &countingProvider{
		failures: 3,
		err:      transientErr("counting", "create_key", "", errors.New("throttled")),
	}
	p := WithRetry(inner, fastRetry(), zerolog.Nop())

	id, err := p.CreateKey(context.Background(), KeySpec{TenantID: "t", KeyName: "k"})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if id != "counting:key" {
		t.Errorf("unexpected id %s", id)
	}
	if got := inner.calls.Load(); got != 4 {
		t.Errorf("expected 4 calls (3 failures + success), got %d", got)
	}
}

func TestWithRetry_PermanentNotRetried(t *testing.T) {
	permanent := permanentErr("counting", "create_key", "", errors.New("access denied"))
	inner := &countingProvider{failures: 10, err: permanent}
	p := WithRetry(inner, fastRetry(), zerolog.Nop())

	_, err := p.CreateKey(context.Background(), KeySpec{TenantID: "t", KeyName: "k"})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTransient(err) {
		t.Error("permanent error misclassified as transient")
	}
	if got := inner.calls.Load(); got != 1 {
		t.Errorf("permanent error must not be retried, got %d calls", got)
	}
}

func TestWithRetry_GivesUpAfterMaxRetries(t *testing.T) {
	inner := &countingProvider{
		failures: 100,
		err:      transientErr("counting", "create_key", "", errors.New("still throttled")),
	}
	cfg := fastRetry()
	p := WithRetry(inner, cfg, zerolog.Nop())

	_, err := p.CreateKey(context.Background(), KeySpec{TenantID: "t", KeyName: "k"})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !IsTransient(err) {
		t.Error("exhausted transient error should remain transient")
	}
	if got := inner.calls.Load(); got != int64(cfg.MaxRetries)+1 {
		t.Errorf("expected %d calls, got %d", cfg.MaxRetries+1, got)
	}
}
