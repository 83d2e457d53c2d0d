package policy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/classcast/backend/config"
	"github.com/classcast/backend/internal/models"
)

const keyPrefix = "policy:"

// Store loads and saves per-session moderation policy in Redis. Sessions
// without a stored policy get the configured defaults.
type Store struct {
	client   *redis.Client
	defaults models.ModerationPolicy
	logger   *zap.Logger
}

// NewStore creates a Redis-backed policy store.
func NewStore(client *redis.Client, defaults config.PolicyConfig, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client: client,
		defaults: models.ModerationPolicy{
			BannedTerms:     defaults.BannedTerms,
			SlowModeSeconds: defaults.SlowModeSeconds,
			HoldForReview:   defaults.HoldForReview,
		},
		logger: logger,
	}
}

// Defaults returns the policy applied when none is stored.
func (s *Store) Defaults() models.ModerationPolicy {
	return s.defaults
}

// Load returns the session's stored policy, or the defaults when none exists.
func (s *Store) Load(ctx context.Context, sessionID uuid.UUID) (models.ModerationPolicy, error) {
	raw, err := s.client.Get(ctx, keyPrefix+sessionID.String()).Bytes()
	if err == redis.Nil {
		return s.defaults, nil
	}
	if err != nil {
		return s.defaults, fmt.Errorf("policy get: %w", err)
	}
	var p models.ModerationPolicy
	if err := json.Unmarshal(raw, &p); err != nil {
		s.logger.Warn("stored policy is malformed, using defaults",
			zap.String("session_id", sessionID.String()), zap.Error(err))
		return s.defaults, nil
	}
	return p, nil
}

// Save stores the session's policy. It takes effect on the next session
// start or explicit refresh; live snapshots are never mutated in place.
func (s *Store) Save(ctx context.Context, sessionID uuid.UUID, p models.ModerationPolicy) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("policy marshal: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+sessionID.String(), raw, 0).Err(); err != nil {
		return fmt.Errorf("policy set: %w", err)
	}
	return nil
}
