package auth

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Additional-Code/courierdesk/internal/cache"
	"github.com/Additional-Code/courierdesk/internal/config"
	"github.com/Additional-Code/courierdesk/internal/entity"
	profilerepo "github.com/Additional-Code/courierdesk/internal/repository/profile"
)

const roleNamespace = "role"

// Resolver maps a user id to the role stored on its profile.
type Resolver struct {
	profiles *profilerepo.Repository
	store    cache.Store
	ttl      time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

// NewResolver wires a Resolver. A nil store disables caching.
func NewResolver(profiles *profilerepo.Repository, store cache.Store, cfg config.Config, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		profiles: profiles,
		store:    store,
		ttl:      cfg.Auth.RoleCacheTTL,
		timeout:  cfg.Backend.QueryTimeout,
		logger:   logger,
	}
}

// Role returns the user's role. Any lookup failure yields RoleClient; the
// error is logged and never returned.
func (r *Resolver) Role(ctx context.Context, userID string) entity.Role {
	if userID == "" {
		return entity.RoleClient
	}

	key := cache.Key(roleNamespace, userID)
	var cached string
	if r.ttl > 0 {
		if err := cache.GetJSON(ctx, r.store, key, &cached); err == nil {
			if role, ok := entity.ParseRole(cached); ok {
				return role
			}
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			r.logger.Warn("role cache read failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	stored, err := r.profiles.Role(ctx, userID)
	if err != nil {
		r.logger.Error("role lookup failed", zap.String("user_id", userID), zap.Error(err))
		return entity.RoleClient
	}
	role, ok := entity.ParseRole(string(stored))
	if !ok {
		r.logger.Warn("unknown role on profile", zap.String("user_id", userID), zap.String("role", string(stored)))
		return entity.RoleClient
	}

	if r.ttl > 0 {
		if err := cache.SetJSON(ctx, r.store, key, string(role), r.ttl); err != nil {
			r.logger.Warn("role cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return role
}

// Forget drops the cached role of a user.
func (r *Resolver) Forget(ctx context.Context, userID string) {
	if r.store == nil {
		return
	}
	_ = r.store.Delete(ctx, cache.Key(roleNamespace, userID))
}
