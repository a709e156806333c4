package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BTreeMap/VoiceFAQ/internal/models"
)

const defaultKeyPrefix = "voicefaq:"

// RedisStateStore shares conversation state across replicas. Each state is a
// JSON value with a TTL; two sorted sets index sessions by creation and last
// update time for eviction and idle sweeps.
type RedisStateStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

var _ StateStore = (*RedisStateStore)(nil)

func (s *RedisStateStore) stateKey(sessionID string) string {
	return s.prefix + "state:" + sessionID
}

func (s *RedisStateStore) createdKey() string { return s.prefix + "states:created" }
func (s *RedisStateStore) updatedKey() string { return s.prefix + "states:updated" }

func (s *RedisStateStore) Create(ctx context.Context, state *models.ConversationState) error {
	state.Version = 1
	val, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.stateKey(state.SessionID), val, s.ttl)
		pipe.ZAdd(ctx, s.createdKey(), redis.Z{Score: float64(state.CreatedAt.UnixMilli()), Member: state.SessionID})
		pipe.ZAdd(ctx, s.updatedKey(), redis.Z{Score: float64(state.UpdatedAt.UnixMilli()), Member: state.SessionID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create state: %w", err)
	}
	return nil
}

func (s *RedisStateStore) Get(ctx context.Context, sessionID string) (*models.ConversationState, error) {
	key := s.stateKey(sessionID)
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}

	var st models.ConversationState
	if err := json.Unmarshal(val, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	// Refresh TTL on read.
	s.client.Expire(ctx, key, s.ttl)
	return &st, nil
}

func (s *RedisStateStore) Update(ctx context.Context, state *models.ConversationState) error {
	key := s.stateKey(state.SessionID)
	next := state.Version + 1

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrStateNotFound
		}
		if err != nil {
			return err
		}

		var stored models.ConversationState
		if err := json.Unmarshal(val, &stored); err != nil {
			return fmt.Errorf("failed to unmarshal state: %w", err)
		}
		if stored.Version != state.Version {
			return ErrVersionConflict
		}

		out := *state
		out.Version = next
		newVal, err := json.Marshal(&out)
		if err != nil {
			return fmt.Errorf("failed to marshal state: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newVal, s.ttl)
			pipe.ZAdd(ctx, s.updatedKey(), redis.Z{Score: float64(state.UpdatedAt.UnixMilli()), Member: state.SessionID})
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		state.Version = next
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return ErrVersionConflict
	case errors.Is(err, ErrStateNotFound), errors.Is(err, ErrVersionConflict):
		return err
	default:
		return fmt.Errorf("failed to update state: %w", err)
	}
}

func (s *RedisStateStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.stateKey(sessionID))
		pipe.ZRem(ctx, s.createdKey(), sessionID)
		pipe.ZRem(ctx, s.updatedKey(), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

func (s *RedisStateStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.createdKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count states: %w", err)
	}
	return int(n), nil
}

func (s *RedisStateStore) EvictOldest(ctx context.Context) (string, error) {
	popped, err := s.client.ZPopMin(ctx, s.createdKey(), 1).Result()
	if err != nil {
		return "", fmt.Errorf("failed to pop oldest state: %w", err)
	}
	if len(popped) == 0 {
		return "", nil
	}
	id, _ := popped[0].Member.(string)
	if err := s.Delete(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *RedisStateStore) IdleSince(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.updatedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list idle states: %w", err)
	}
	return ids, nil
}

// Close closes the underlying client.
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}
