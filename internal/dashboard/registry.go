package dashboard

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/courierdesk/internal/auth"
	"github.com/Additional-Code/courierdesk/internal/changefeed"
	"github.com/Additional-Code/courierdesk/internal/config"
	"github.com/Additional-Code/courierdesk/internal/entity"
	"github.com/Additional-Code/courierdesk/internal/realtime"
	repo "github.com/Additional-Code/courierdesk/internal/repository/order"
	ordersvc "github.com/Additional-Code/courierdesk/internal/service/order"
)

// Module provides the controller registry and its eviction loop.
var Module = fx.Module("dashboard",
	fx.Provide(NewRegistry),
	fx.Invoke(func(lc fx.Lifecycle, r *Registry) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				r.Start()
				return nil
			},
			OnStop: func(context.Context) error {
				r.Stop()
				return nil
			},
		})
	}),
)

type entry struct {
	ctrl     *Controller
	role     entity.Role
	userID   string
	lastUsed time.Time
}

// Registry keeps one Controller per browser session.
type Registry struct {
	fetcher Fetcher
	feed    *changefeed.Feed
	hub     *realtime.Hub
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry

	stop     chan struct{}
	stopOnce sync.Once
}

// RegistryParams collects dependencies via Fx.
type RegistryParams struct {
	fx.In

	Service *ordersvc.Service
	Feed    *changefeed.Feed
	Hub     *realtime.Hub
	Config  config.Config
	Logger  *zap.Logger
}

// NewRegistry wires a Registry.
func NewRegistry(p RegistryParams) *Registry {
	return newRegistry(p.Service, p.Feed, p.Hub, p.Config.Dashboard.ControllerTTL, p.Logger)
}

func newRegistry(fetcher Fetcher, feed *changefeed.Feed, hub *realtime.Hub, ttl time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Registry{
		fetcher: fetcher,
		feed:    feed,
		hub:     hub,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		entries: map[string]*entry{},
		stop:    make(chan struct{}),
	}
}

// For returns the controller of sess, creating and subscribing it on first
// use. A session whose user or role changed gets a fresh controller.
func (r *Registry) For(sess *auth.Session) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[sess.Key]; ok {
		if e.role == sess.Role && e.userID == sess.UserID {
			e.lastUsed = r.now()
			return e.ctrl
		}
		e.ctrl.Close()
	}

	key := sess.Key
	ctrl := NewController(r.fetcher, Options{
		Scope:  ScopeFor(sess),
		Notify: func(ev Event) { r.push(key, ev) },
		Logger: r.logger.With(zap.String("session", shortKey(key)), zap.String("role", string(sess.Role))),
	})
	ctrl.Subscribe(r.feed)
	r.entries[key] = &entry{ctrl: ctrl, role: sess.Role, userID: sess.UserID, lastUsed: r.now()}
	return ctrl
}

// Remove closes and forgets the controller of a session.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		e.ctrl.Close()
		delete(r.entries, key)
	}
}

// Len reports the number of live controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Evict closes controllers idle for longer than the TTL and returns how many
// were removed.
func (r *Registry) Evict() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.ttl)
	n := 0
	for key, e := range r.entries {
		if e.lastUsed.Before(cutoff) {
			e.ctrl.Close()
			delete(r.entries, key)
			n++
		}
	}
	return n
}

// Start runs the eviction loop.
func (r *Registry) Start() {
	interval := r.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				if n := r.Evict(); n > 0 {
					r.logger.Debug("evicted idle dashboard controllers", zap.Int("count", n))
				}
			}
		}
	}()
}

// Stop ends the eviction loop and closes every controller.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.entries {
		e.ctrl.Close()
		delete(r.entries, key)
	}
}

func (r *Registry) push(key string, ev Event) {
	if r.hub == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	r.hub.Publish(key, realtime.Message{Event: string(ev.Kind), Data: string(data)})
}

// ScopeFor restricts clients to their own orders and drivers to theirs.
func ScopeFor(sess *auth.Session) repo.Filters {
	switch sess.Role {
	case entity.RoleAdmin:
		return repo.Filters{}
	case entity.RoleDriver:
		return repo.Filters{DriverID: sess.UserID}
	default:
		return repo.Filters{RequesterID: sess.UserID}
	}
}

func shortKey(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
