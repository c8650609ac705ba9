package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/courierdesk/internal/config"
)

// Store is a byte-value cache. A missing key is ErrCacheMiss; callers treat
// every other error as the cache being unavailable and go to the database.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

var ErrCacheMiss = errors.New("cache miss")

// Module provides the Store selected by CACHE_DRIVER.
var Module = fx.Provide(NewStore)

// Key builds "courierdesk:<namespace>:<id>".
func Key(namespace string, id any) string {
	return fmt.Sprintf("courierdesk:%s:%v", namespace, id)
}

// GetJSON decodes the value at key into dst. Undecodable entries count as
// misses so the next SetJSON replaces them.
func GetJSON(ctx context.Context, store Store, key string, dst any) error {
	if store == nil {
		return ErrCacheMiss
	}
	raw, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheMiss, err)
	}
	return nil
}

// SetJSON stores value as JSON. A zero ttl uses the store's default.
func SetJSON(ctx context.Context, store Store, key string, value any, ttl time.Duration) error {
	if store == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, raw, ttl)
}

// NewStore returns the redis store, or a store that never hits when caching
// is disabled.
func NewStore(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Cache.Driver {
	case "noop":
		logger.Info("role cache disabled")
		return disabledStore{}, nil
	case "redis":
		return newRedisStore(lc, cfg.Cache, logger), nil
	default:
		return nil, fmt.Errorf("unsupported cache driver: %s", cfg.Cache.Driver)
	}
}

type disabledStore struct{}

func (disabledStore) Get(context.Context, string) ([]byte, error)             { return nil, ErrCacheMiss }
func (disabledStore) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (disabledStore) Delete(context.Context, string) error                     { return nil }
