package flow

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BTreeMap/VoiceFAQ/internal/models"
)

var (
	// ErrStateNotFound is returned when no conversation state exists for a session.
	ErrStateNotFound = errors.New("conversation state not found")
	// ErrVersionConflict is returned when a write is based on a stale state version.
	ErrVersionConflict = errors.New("conversation state version conflict")
	// ErrInvalidStoreType is returned for an unknown state store type.
	ErrInvalidStoreType = errors.New("invalid state store type")
	// ErrInvalidConfig is returned when a state store option is missing.
	ErrInvalidConfig = errors.New("invalid state store configuration")
)

// StateStore holds per-session conversation state.
//
// Implementations hand out copies; callers mutate their copy and write it
// back with Update, which fails with ErrVersionConflict when another writer
// got there first.
type StateStore interface {
	// Create registers fresh state for a session, replacing any existing entry.
	// The stored Version starts at 1.
	Create(ctx context.Context, state *models.ConversationState) error
	// Get returns a copy of the state or ErrStateNotFound.
	Get(ctx context.Context, sessionID string) (*models.ConversationState, error)
	// Update writes state if its Version matches the stored one and then
	// increments state.Version.
	Update(ctx context.Context, state *models.ConversationState) error
	// Delete removes the state. Deleting a missing session is not an error.
	Delete(ctx context.Context, sessionID string) error
	// Len returns the number of tracked sessions.
	Len(ctx context.Context) (int, error)
	// EvictOldest removes the least recently created session and returns its
	// id, or "" when the store is empty.
	EvictOldest(ctx context.Context) (string, error)
	// IdleSince lists sessions whose UpdatedAt is before cutoff.
	IdleSince(ctx context.Context, cutoff time.Time) ([]string, error)
	// Close releases resources held by the store.
	Close() error
}

// StoreType names a StateStore driver.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// DefaultStateTTL bounds how long Redis keeps state nobody touches.
const DefaultStateTTL = 24 * time.Hour

// StoreOption configures NewStateStore.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient *redis.Client
	redisTTL    time.Duration
	keyPrefix   string
}

// WithRedisClient sets the client used by the Redis driver.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithRedisTTL sets the expiry of Redis state keys.
func WithRedisTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.redisTTL = ttl
	}
}

// WithKeyPrefix namespaces Redis keys.
func WithKeyPrefix(prefix string) StoreOption {
	return func(c *storeConfig) {
		c.keyPrefix = prefix
	}
}

// NewStateStore creates a StateStore of the given type. The Redis driver
// requires WithRedisClient.
func NewStateStore(storeType StoreType, opts ...StoreOption) (StateStore, error) {
	cfg := &storeConfig{keyPrefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(cfg)
	}

	switch storeType {
	case StoreTypeMemory, "":
		return NewMemoryStateStore(), nil
	case StoreTypeRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		ttl := cfg.redisTTL
		if ttl <= 0 {
			ttl = DefaultStateTTL
		}
		return &RedisStateStore{client: cfg.redisClient, ttl: ttl, prefix: cfg.keyPrefix}, nil
	default:
		return nil, ErrInvalidStoreType
	}
}
