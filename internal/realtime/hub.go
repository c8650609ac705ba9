package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/courierdesk/internal/config"
)

var hubMeter = otel.Meter("github.com/Additional-Code/courierdesk/realtime")

// Module provides the hub and runs its keepalive loop.
var Module = fx.Module("realtime",
	fx.Provide(NewHub),
	fx.Invoke(func(lc fx.Lifecycle, hub *Hub) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				hub.Start()
				return nil
			},
			OnStop: func(context.Context) error {
				hub.Stop()
				return nil
			},
		})
	}),
)

// Message is one server-sent event.
type Message struct {
	Event string
	Data  string
}

// Hub fans server-sent events out to the browser streams of each session.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[chan Message]struct{}

	keepalive time.Duration
	stop      chan struct{}
	stopOnce  sync.Once
	logger    *zap.Logger
	streams   metric.Int64UpDownCounter
}

// NewHub constructs a Hub.
func NewHub(cfg config.Config, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	keepalive := cfg.Realtime.Keepalive
	if keepalive <= 0 {
		keepalive = 30 * time.Second
	}
	streams, err := hubMeter.Int64UpDownCounter("courierdesk.realtime.streams",
		metric.WithDescription("Open browser event streams"))
	if err != nil {
		logger.Warn("stream gauge unavailable", zap.Error(err))
	}
	return &Hub{
		clients:   map[string]map[chan Message]struct{}{},
		keepalive: keepalive,
		stop:      make(chan struct{}),
		logger:    logger,
		streams:   streams,
	}
}

// Start runs the keepalive loop.
func (h *Hub) Start() {
	go h.run()
}

// Stop ends the keepalive loop.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *Hub) run() {
	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.Broadcast(Message{Event: "keepalive", Data: "ping"})
		}
	}
}

// AddClient registers a stream for session key.
func (h *Hub) AddClient(key string) chan Message {
	ch := make(chan Message, 64)
	h.mu.Lock()
	if h.clients[key] == nil {
		h.clients[key] = map[chan Message]struct{}{}
	}
	h.clients[key][ch] = struct{}{}
	h.mu.Unlock()
	if h.streams != nil {
		h.streams.Add(context.Background(), 1)
	}
	return ch
}

// RemoveClient unregisters and closes a stream.
func (h *Hub) RemoveClient(key string, ch chan Message) {
	h.mu.Lock()
	if set, ok := h.clients[key]; ok {
		if _, ok := set[ch]; ok {
			delete(set, ch)
			close(ch)
			if h.streams != nil {
				h.streams.Add(context.Background(), -1)
			}
		}
		if len(set) == 0 {
			delete(h.clients, key)
		}
	}
	h.mu.Unlock()
}

// Publish sends msg to every stream of session key. Full streams drop it.
func (h *Hub) Publish(key string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients[key] {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Broadcast sends msg to every stream.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.clients {
		for ch := range set {
			select {
			case ch <- msg:
			default:
			}
		}
	}
}

// ClientCount reports the open streams of session key.
func (h *Hub) ClientCount(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[key])
}

// Stream serves the event stream of session key until the request ends.
func (h *Hub) Stream(c echo.Context, key string) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ch := h.AddClient(key)
	defer h.RemoveClient(key, ch)

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, msg.Data); err != nil {
				h.logger.Debug("event stream closed", zap.Error(err))
				return nil
			}
			w.Flush()
		}
	}
}
