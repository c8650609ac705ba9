package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/courierdesk/internal/config"
)

type redisStore struct {
	client     *goredis.Client
	defaultTTL time.Duration
}

// newRedisStore connects lazily; the start hook fails the app when redis is
// unreachable at boot.
func newRedisStore(lc fx.Lifecycle, cfg config.Cache, logger *zap.Logger) *redisStore {
	s := &redisStore{
		client: goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}),
		defaultTTL: cfg.DefaultTTL,
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := s.client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("role cache: ping redis at %s: %w", cfg.Redis.Addr, err)
			}
			logger.Info("role cache on redis", zap.String("addr", cfg.Redis.Addr), zap.Int("db", cfg.Redis.DB))
			return nil
		},
		OnStop: func(context.Context) error {
			return s.client.Close()
		},
	})
	return s
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrCacheMiss
	}
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrCacheMiss
	}
	return b, err
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errors.New("cache key is required")
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return s.client.Del(ctx, key).Err()
}
