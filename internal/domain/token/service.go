package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pms/pms/internal/platform/audit"
	"github.com/pms/pms/internal/platform/metrics"
)

// ErrTokenNotActive indicates a lifecycle operation was attempted on a token
// that is expired or already in a terminal status.
var ErrTokenNotActive = errors.New("auth token not active")

const (
	// secretRandomBytes is the entropy of generated secrets (256 bits).
	secretRandomBytes = 32

	// prefixLength is how much of the raw secret is retained for display in
	// listings and logs.
	prefixLength = 12

	// DefaultCleanupRetention keeps terminal tokens around for audit before
	// the cleanup sweep hard-deletes them.
	DefaultCleanupRetention = 30 * 24 * time.Hour
)

// Service owns all writes to auth tokens: issuance, validation touches,
// revocation, rotation, and cleanup.
type Service struct {
	store     Store
	audit     audit.Recorder
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	retention time.Duration
	now       func() time.Time
}

// NewService creates a token service backed by the given store.
func NewService(store Store, rec audit.Recorder, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		audit:     rec,
		metrics:   m,
		logger:    logger.With().Str("component", "token_service").Logger(),
		retention: DefaultCleanupRetention,
		now:       time.Now,
	}
}

// SetCleanupRetention overrides how long terminal tokens are retained before
// cleanup deletes them.
func (s *Service) SetCleanupRetention(d time.Duration) { s.retention = d }

// CreateTokenInput carries the issuance parameters. Lifetime zero means the
// per-type default.
type CreateTokenInput struct {
	Type      TokenType
	UserID    *uuid.UUID
	Scopes    []string
	Lifetime  time.Duration
	Issuer    string
	Audience  string
	ClientIP  string
	UserAgent string
}

// CreateToken issues a new token and returns the plaintext secret exactly
// once; only its hash is persisted and the secret is unrecoverable
// thereafter. Client IP and user agent are hashed before storage.
func (s *Service) CreateToken(ctx context.Context, in CreateTokenInput) (string, *AuthToken, error) {
	if !in.Type.Valid() {
		return "", nil, fmt.Errorf("unknown token type %q", in.Type)
	}

	lifetime := in.Lifetime
	if lifetime <= 0 {
		lifetime = in.Type.DefaultLifetime()
	}

	secret, err := generateSecret(in.Type)
	if err != nil {
		return "", nil, fmt.Errorf("generating token secret: %w", err)
	}

	now := s.now().UTC()
	t := &AuthToken{
		ID:            uuid.New(),
		TokenHash:     hashSecret(secret),
		TokenPrefix:   secret[:prefixLength],
		TokenType:     in.Type,
		Status:        StatusActive,
		UserID:        in.UserID,
		Scopes:        in.Scopes,
		Issuer:        in.Issuer,
		Audience:      in.Audience,
		IssuedAt:      now,
		ExpiresAt:     now.Add(lifetime),
		ClientIPHash:  hashFingerprint(in.ClientIP),
		UserAgentHash: hashFingerprint(in.UserAgent),
		CreatedAt:     now,
	}

	if err := s.store.Create(ctx, t); err != nil {
		return "", nil, fmt.Errorf("storing token: %w", err)
	}

	s.metrics.TokensIssued.WithLabelValues(string(in.Type)).Inc()
	s.recordAudit(ctx, audit.ActionTokenCreated, t, audit.OutcomeSuccess, "")
	s.logger.Info().
		Str("token_id", t.ID.String()).
		Str("token_type", string(t.TokenType)).
		Time("expires_at", t.ExpiresAt).
		Msg("token issued")

	return secret, t, nil
}

// ValidateToken hashes the supplied secret and looks it up. A missing,
// expired, non-active, or type-mismatched token is an expected outcome and
// returns (nil, nil), never an error. On success last_used_at is touched with
// a single write and the record returned. Pass expectedType "" to accept any
// type.
func (s *Service) ValidateToken(ctx context.Context, secret string, expectedType TokenType) (*AuthToken, error) {
	t, err := s.store.GetByHash(ctx, hashSecret(secret))
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			s.metrics.ValidationsTotal.WithLabelValues("miss").Inc()
			return nil, nil
		}
		return nil, fmt.Errorf("looking up token: %w", err)
	}

	now := s.now().UTC()
	if !t.IsActive(now) {
		s.metrics.ValidationsTotal.WithLabelValues("miss").Inc()
		return nil, nil
	}
	if expectedType != "" && t.TokenType != expectedType {
		s.metrics.ValidationsTotal.WithLabelValues("miss").Inc()
		return nil, nil
	}

	t.LastUsedAt = &now
	if err := s.store.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("touching token: %w", err)
	}

	s.metrics.ValidationsTotal.WithLabelValues("ok").Inc()
	return t, nil
}

// RevokeToken marks the token REVOKED. It is idempotent: revoking a token
// already in a terminal status is a no-op returning false.
func (s *Service) RevokeToken(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	t, err := s.store.GetByID(ctx, id)
	if err != nil {
		return false, err
	}

	if t.Status.Terminal() {
		return false, nil
	}

	now := s.now().UTC()
	t.Status = StatusRevoked
	t.RevokedAt = &now
	t.RevokedReason = reason
	if err := s.store.Update(ctx, t); err != nil {
		return false, fmt.Errorf("revoking token: %w", err)
	}

	s.metrics.TokensRevoked.Inc()
	s.recordAudit(ctx, audit.ActionTokenRevoked, t, audit.OutcomeSuccess, reason)
	return true, nil
}

// RevokeUserTokens revokes every ACTIVE token held by the user and returns
// the number affected. Used for logout-everywhere and compromise response.
func (s *Service) RevokeUserTokens(ctx context.Context, userID uuid.UUID, reason string) (int, error) {
	count, err := s.store.RevokeActiveByUser(ctx, userID, reason, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("revoking user tokens: %w", err)
	}

	s.metrics.TokensRevoked.Add(float64(count))
	s.recordAudit(ctx, audit.ActionTokenRevoked, &AuthToken{UserID: &userID}, audit.OutcomeSuccess,
		fmt.Sprintf("bulk revoke (%d tokens): %s", count, reason))
	s.logger.Info().
		Str("user_id", userID.String()).
		Int("revoked", count).
		Msg("user tokens revoked")
	return count, nil
}

// RotateToken atomically issues a successor to the given token and revokes
// the original: the new token carries the same type, scopes and audience,
// parent_token_id set to the old token, and rotation_count incremented. Both
// writes commit together or not at all. Returns the new plaintext secret and
// record.
func (s *Service) RotateToken(ctx context.Context, oldID uuid.UUID) (string, *AuthToken, error) {
	old, err := s.store.GetByID(ctx, oldID)
	if err != nil {
		return "", nil, err
	}

	now := s.now().UTC()
	if !old.IsActive(now) {
		return "", nil, ErrTokenNotActive
	}

	secret, err := generateSecret(old.TokenType)
	if err != nil {
		return "", nil, fmt.Errorf("generating token secret: %w", err)
	}

	next := &AuthToken{
		ID:            uuid.New(),
		TokenHash:     hashSecret(secret),
		TokenPrefix:   secret[:prefixLength],
		TokenType:     old.TokenType,
		Status:        StatusActive,
		UserID:        old.UserID,
		Scopes:        old.Scopes,
		Issuer:        old.Issuer,
		Audience:      old.Audience,
		IssuedAt:      now,
		ExpiresAt:     now.Add(old.ExpiresAt.Sub(old.IssuedAt)),
		RotationCount: old.RotationCount + 1,
		ParentTokenID: &old.ID,
		ClientIPHash:  old.ClientIPHash,
		UserAgentHash: old.UserAgentHash,
		CreatedAt:     now,
	}

	if err := s.store.CreateAndRevoke(ctx, next, old.ID, "rotated", now); err != nil {
		return "", nil, fmt.Errorf("rotating token: %w", err)
	}

	s.metrics.TokensIssued.WithLabelValues(string(next.TokenType)).Inc()
	s.metrics.TokensRevoked.Inc()
	s.recordAudit(ctx, audit.ActionTokenRotated, next, audit.OutcomeSuccess, "")
	s.logger.Info().
		Str("token_id", next.ID.String()).
		Str("parent_token_id", old.ID.String()).
		Int("rotation_count", next.RotationCount).
		Msg("token rotated")

	return secret, next, nil
}

// CleanupExpiredTokens transitions overdue ACTIVE tokens to EXPIRED, then
// hard-deletes tokens that have sat in a terminal status past the retention
// window. Returns the number deleted. Maintenance operation, outside the hot
// path.
func (s *Service) CleanupExpiredTokens(ctx context.Context) (int, error) {
	now := s.now().UTC()

	expired, err := s.store.ExpireOverdue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("expiring overdue tokens: %w", err)
	}

	deleted, err := s.store.DeleteTerminal(ctx, now.Add(-s.retention))
	if err != nil {
		return 0, fmt.Errorf("deleting terminal tokens: %w", err)
	}

	s.metrics.TokensCleanedUp.Add(float64(deleted))
	s.recordAudit(ctx, audit.ActionTokenCleanup, &AuthToken{}, audit.OutcomeSuccess,
		fmt.Sprintf("expired %d, deleted %d", expired, deleted))
	s.logger.Info().
		Int("expired", expired).
		Int("deleted", deleted).
		Msg("token cleanup complete")
	return deleted, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, t *AuthToken, outcome, detail string) {
	event := &audit.Event{
		Action:       action,
		ResourceType: "auth_token",
		ActorUserID:  t.UserID,
		Outcome:      outcome,
		Detail:       detail,
	}
	if t.ID != uuid.Nil {
		id := t.ID
		event.ResourceID = &id
	}
	if err := s.audit.Record(ctx, event); err != nil {
		// Audit failures never fail the operation.
		s.logger.Warn().Err(err).Str("action", action).Msg("audit record failed")
	}
}

// generateSecret produces a cryptographically random URL-safe secret with a
// type-tagged prefix: pms_<type>_<base64url>.
func generateSecret(t TokenType) (string, error) {
	b := make([]byte, secretRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	prefix := "pms_" + strings.ToLower(string(t)) + "_"
	return prefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// hashSecret returns the hex-encoded SHA-256 hash of the secret.
func hashSecret(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}

// hashFingerprint hashes client fingerprints (IP, user agent) so the raw
// values are never stored. Empty input stays empty.
func hashFingerprint(v string) string {
	if v == "" {
		return ""
	}
	h := sha256.Sum256([]byte(v))
	return hex.EncodeToString(h[:])
}
