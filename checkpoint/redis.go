package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/careflow-ai/careflow/logging"
	"github.com/careflow-ai/careflow/profile"
	"github.com/careflow-ai/careflow/session"
)

const defaultKeyPrefix = "careflow:session:"

// RedisOptions configure a RedisStore.
type RedisOptions struct {
	// KeyPrefix namespaces the session keys (default "careflow:session:").
	KeyPrefix string
	// TTL bounds how long an idle checkpoint survives (0 = never expire).
	TTL    time.Duration
	Logger logging.Logger
}

// RedisStore keeps one checkpoint per session as a JSON value in Redis,
// suitable for multi-node deployments where consecutive turns of a session
// may land on different instances.
type RedisStore struct {
	client   redis.UniversalClient
	profiles profile.Store
	prefix   string
	ttl      time.Duration
	logger   logging.Logger
}

// NewRedisStore creates a checkpoint store over an existing Redis client.
func NewRedisStore(client redis.UniversalClient, profiles profile.Store, optFns ...func(o *RedisOptions)) *RedisStore {
	opts := RedisOptions{
		KeyPrefix: defaultKeyPrefix,
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &RedisStore{
		client:   client,
		profiles: profiles,
		prefix:   opts.KeyPrefix,
		ttl:      opts.TTL,
		logger:   opts.Logger,
	}
}

func (r *RedisStore) key(sessionID string) string { return r.prefix + sessionID }

// LoadOrSeed implements Store.
func (r *RedisStore) LoadOrSeed(ctx context.Context, sessionID, userID string) (*session.State, error) {
	data, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("checkpoint: load %q: %w", sessionID, err)
		}
		return r.seed(ctx, sessionID, userID)
	}

	var s session.State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("checkpoint: decode %q: %w", sessionID, err)
	}
	return &s, nil
}

func (r *RedisStore) seed(ctx context.Context, sessionID, userID string) (*session.State, error) {
	if r.profiles == nil {
		return nil, fmt.Errorf("checkpoint: seed %q: %w", sessionID, ErrNoProfile)
	}

	p, err := r.profiles.Fetch(ctx, userID)
	switch {
	case errors.Is(err, profile.ErrNotFound):
		return nil, fmt.Errorf("checkpoint: seed %q: user %q: %w: %w", sessionID, userID, ErrNoProfile, err)
	case err != nil:
		return nil, fmt.Errorf("checkpoint: seed %q: %w", sessionID, err)
	}

	s := session.New(sessionID, userID)
	profile.SeedState(s, p)
	r.logger.Info("checkpoint.seeded", "session_id", sessionID, "user_id", userID)
	return s, nil
}

// Persist implements Store.
func (r *RedisStore) Persist(ctx context.Context, s *session.State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("checkpoint: encode %q: %w", s.SessionID, err)
	}
	if err := r.client.Set(ctx, r.key(s.SessionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("checkpoint: persist %q: %w", s.SessionID, err)
	}
	return nil
}

// Purge implements Store.
func (r *RedisStore) Purge(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("checkpoint: purge %q: %w", sessionID, err)
	}
	return nil
}

// ArchiveAndPurge implements Store.
func (r *RedisStore) ArchiveAndPurge(ctx context.Context, sessionID string) error {
	data, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("checkpoint: archive %q: %w", sessionID, err)
	}

	var s session.State
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("checkpoint: decode %q: %w", sessionID, err)
	}

	if r.profiles != nil && s.UserID != "" {
		if err := r.profiles.Upsert(ctx, profile.FromState(&s)); err != nil {
			// Keep the checkpoint so the archive can be retried.
			return fmt.Errorf("checkpoint: archive %q: %w", sessionID, err)
		}
		r.logger.Info("checkpoint.archived", "session_id", sessionID, "user_id", s.UserID)
	}

	return r.Purge(ctx, sessionID)
}

var _ Store = (*RedisStore)(nil)
