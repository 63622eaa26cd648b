// internal/history/redis.go
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bitesense/api/schemas"
	"github.com/xkilldash9x/bitesense/internal/config"
)

// maxTxRetries bounds optimistic-lock retries when concurrent appends collide.
const maxTxRetries = 5

// RedisStore keeps the whole history as one JSON list under a single key.
// Appends use WATCH so a concurrent writer can never lose a record.
type RedisStore struct {
	client *redis.Client
	key    string
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	key := cfg.Key
	if key == "" {
		key = "bite_history"
	}
	return &RedisStore{
		client: client,
		key:    key,
		logger: logger.Named("history.redis"),
		now:    time.Now,
	}, nil
}

func (s *RedisStore) Append(ctx context.Context, rec schemas.BiteRecord) (schemas.BiteRecord, error) {
	rec = stamp(rec, s.now())

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, s.key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		data, err := encodeList(prepend(decodeList(raw, s.logger), rec))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, data, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, s.key)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return schemas.BiteRecord{}, fmt.Errorf("failed to append bite record: %w", err)
		}
		s.logger.Debug("History key changed during append, retrying", zap.Int("attempt", attempt+1))
	}
	return schemas.BiteRecord{}, fmt.Errorf("failed to append bite record: %w", redis.TxFailedErr)
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to clear bite history: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]schemas.BiteRecord, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []schemas.BiteRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read bite history: %w", err)
	}
	return decodeList(raw, s.logger), nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (schemas.BiteRecord, error) {
	list, err := s.List(ctx)
	if err != nil {
		return schemas.BiteRecord{}, err
	}
	return find(list, id)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
