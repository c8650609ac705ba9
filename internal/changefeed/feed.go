package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/courierdesk/internal/config"
	"github.com/Additional-Code/courierdesk/internal/messaging"
	"github.com/Additional-Code/courierdesk/internal/worker"
)

var (
	feedTracer = otel.Tracer("github.com/Additional-Code/courierdesk/changefeed")
	feedMeter  = otel.Meter("github.com/Additional-Code/courierdesk/changefeed")
)

// Module provides the feed and registers its consumer with the worker engine.
var Module = fx.Module("changefeed",
	fx.Provide(New),
	fx.Provide(
		fx.Annotate(
			NewHandlerRegistration,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// Handler receives a change delivered to a subscription.
type Handler func(context.Context, Change)

// SubscriberID identifies a subscription for Unsubscribe.
type SubscriberID int

type subscriber struct {
	id      SubscriberID
	fn      Handler
	filters []Filter
}

// Feed fans row changes out to in-process subscribers. Published changes go
// through the message bus when it is enabled, so every instance sees them;
// otherwise they are dispatched locally.
type Feed struct {
	mu          sync.RWMutex
	subscribers []subscriber
	nextID      SubscriberID

	client     messaging.Client
	logger     *zap.Logger
	dispatched metric.Int64Counter
}

// New constructs a Feed on top of the messaging client.
func New(client messaging.Client, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	counter, err := feedMeter.Int64Counter("courierdesk.changefeed.dispatched",
		metric.WithDescription("Row changes delivered to dashboard subscribers"))
	if err != nil {
		logger.Warn("changefeed counter unavailable", zap.Error(err))
	}
	return &Feed{client: client, logger: logger, dispatched: counter}
}

// NewHandlerRegistration binds the feed consumer to the realtime topic.
func NewHandlerRegistration(feed *Feed, cfg config.Config) worker.HandlerRegistration {
	return worker.HandlerRegistration{
		Topic:   cfg.Realtime.Topic,
		Handler: feed.Handle,
	}
}

// Subscribe registers fn for changes matching any of filters (all changes when
// no filter is given).
func (f *Feed) Subscribe(fn Handler, filters ...Filter) SubscriberID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.subscribers = append(f.subscribers, subscriber{id: f.nextID, fn: fn, filters: filters})
	return f.nextID
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (f *Feed) Unsubscribe(id SubscriberID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.subscribers {
		if s.id == id {
			f.subscribers = append(f.subscribers[:i], f.subscribers[i+1:]...)
			return
		}
	}
}

// SubscriberCount reports the number of live subscriptions.
func (f *Feed) SubscriberCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers)
}

// Publish announces a change. Without a bus the change is dispatched in
// place on a context detached from the caller's cancellation; subscribers
// bound their own work.
func (f *Feed) Publish(ctx context.Context, c Change) error {
	if f.client == nil || !f.client.Enabled() {
		f.Dispatch(context.WithoutCancel(ctx), c)
		return nil
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	headers := map[string]string{"table": string(c.Table), "type": string(c.Type)}
	if err := f.client.Publish(ctx, []byte(c.Table), payload, headers); err != nil {
		return fmt.Errorf("publish %s %s: %w", c.Table, c.Type, err)
	}
	return nil
}

// Handle decodes a bus message and dispatches it.
func (f *Feed) Handle(ctx context.Context, msg messaging.Message) error {
	var c Change
	if err := json.Unmarshal(msg.Value, &c); err != nil {
		return fmt.Errorf("decode change at offset %d: %w", msg.Offset, err)
	}
	f.Dispatch(ctx, c)
	return nil
}

// Dispatch delivers c synchronously to every matching subscriber.
func (f *Feed) Dispatch(ctx context.Context, c Change) {
	ctx, span := feedTracer.Start(ctx, "Feed.Dispatch", trace.WithAttributes(
		attribute.String("change.table", string(c.Table)),
		attribute.String("change.type", string(c.Type)),
	))
	defer span.End()

	f.mu.RLock()
	subs := make([]subscriber, len(f.subscribers))
	copy(subs, f.subscribers)
	f.mu.RUnlock()

	delivered := 0
	for _, s := range subs {
		if !s.accepts(c) {
			continue
		}
		s.fn(ctx, c)
		delivered++
	}

	if f.dispatched != nil {
		f.dispatched.Add(ctx, int64(delivered), metric.WithAttributes(
			attribute.String("table", string(c.Table)),
			attribute.String("type", string(c.Type)),
		))
	}
	f.logger.Debug("change dispatched",
		zap.String("table", string(c.Table)),
		zap.String("type", string(c.Type)),
		zap.Int("subscribers", delivered),
	)
}

func (s subscriber) accepts(c Change) bool {
	if len(s.filters) == 0 {
		return true
	}
	for _, f := range s.filters {
		if f.matches(c) {
			return true
		}
	}
	return false
}
