package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/Additional-Code/courierdesk/internal/config"
)

type mapStore map[string][]byte

func (m mapStore) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return v, nil
}

func (m mapStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m[key] = value
	return nil
}

func (m mapStore) Delete(_ context.Context, key string) error {
	delete(m, key)
	return nil
}

func TestKey(t *testing.T) {
	if got := Key("role", "abc"); got != "courierdesk:role:abc" {
		t.Errorf("Key = %q", got)
	}
}

func TestJSONRoundTripAndMiss(t *testing.T) {
	ctx := context.Background()
	store := mapStore{}

	var got string
	if err := GetJSON(ctx, store, "k", &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("GetJSON on empty store = %v, want ErrCacheMiss", err)
	}
	if err := SetJSON(ctx, store, "k", "driver", time.Minute); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	if err := GetJSON(ctx, store, "k", &got); err != nil || got != "driver" {
		t.Fatalf("GetJSON = %q, %v", got, err)
	}

	store["bad"] = []byte("{not json")
	if err := GetJSON(ctx, store, "bad", &got); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("corrupt entry = %v, want ErrCacheMiss", err)
	}
}

func TestDisabledStoreAlwaysMisses(t *testing.T) {
	ctx := context.Background()
	var s Store = disabledStore{}
	if err := SetJSON(ctx, s, "k", 1, 0); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	var v int
	if err := GetJSON(ctx, s, "k", &v); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("disabled GetJSON = %v, want ErrCacheMiss", err)
	}
}

func TestNewStoreSelectsDriver(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	logger := zap.NewNop()

	s, err := NewStore(lc, config.Config{Cache: config.Cache{Driver: "noop"}}, logger)
	if err != nil {
		t.Fatalf("noop: %v", err)
	}
	if _, ok := s.(disabledStore); !ok {
		t.Errorf("noop driver gave %T", s)
	}

	s, err = NewStore(lc, config.Config{Cache: config.Cache{Driver: "redis", DefaultTTL: time.Minute, Redis: config.Redis{Addr: "127.0.0.1:0"}}}, logger)
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	rs, ok := s.(*redisStore)
	if !ok || rs.defaultTTL != time.Minute {
		t.Errorf("redis driver gave %T %+v", s, s)
	}
	if _, err := rs.Get(context.Background(), ""); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("empty key = %v, want ErrCacheMiss", err)
	}

	if _, err := NewStore(lc, config.Config{Cache: config.Cache{Driver: "memcached"}}, logger); err == nil {
		t.Error("unknown driver accepted")
	}
}
