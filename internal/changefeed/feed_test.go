package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Additional-Code/courierdesk/internal/messaging"
)

type recordingClient struct {
	enabled   bool
	published []messaging.Message
	err       error
}

func (c *recordingClient) Publish(_ context.Context, key, value []byte, headers map[string]string) error {
	if c.err != nil {
		return c.err
	}
	c.published = append(c.published, messaging.Message{Key: key, Value: value, Headers: headers})
	return nil
}

func (c *recordingClient) Consume(ctx context.Context, _ messaging.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (c *recordingClient) Topic() string { return "test.changes" }
func (c *recordingClient) Enabled() bool { return c.enabled }

func mustChange(t *testing.T, table Table, typ EventType, record any) Change {
	t.Helper()
	c, err := NewChange(table, typ, record)
	if err != nil {
		t.Fatalf("NewChange: %v", err)
	}
	return c
}

func TestPublishDispatchesLocallyWhenBusDisabled(t *testing.T) {
	feed := New(&recordingClient{}, nil)

	var got []Change
	feed.Subscribe(func(_ context.Context, c Change) { got = append(got, c) },
		Filter{Table: TableOrders, Type: Insert})

	ctx := context.Background()
	if err := feed.Publish(ctx, mustChange(t, TableOrders, Insert, map[string]any{"id": 1})); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := feed.Publish(ctx, mustChange(t, TableOrders, Update, map[string]any{"id": 1})); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := feed.Publish(ctx, mustChange(t, TableStatusEvents, Insert, map[string]any{"id": 2})); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("delivered %d changes, want 1", len(got))
	}
	if got[0].Table != TableOrders || got[0].Type != Insert {
		t.Errorf("got %s %s", got[0].Table, got[0].Type)
	}
}

func TestLocalPublishOutlivesCallerCancellation(t *testing.T) {
	feed := New(nil, nil)

	var subscriberErr error
	delivered := false
	feed.Subscribe(func(ctx context.Context, _ Change) {
		delivered = true
		subscriberErr = ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := feed.Publish(ctx, mustChange(t, TableOrders, Insert, map[string]any{"id": 1})); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !delivered {
		t.Fatal("change was not delivered")
	}
	if subscriberErr != nil {
		t.Fatalf("subscriber context carried the caller's cancellation: %v", subscriberErr)
	}
}

func TestPublishGoesThroughBusWhenEnabled(t *testing.T) {
	client := &recordingClient{enabled: true}
	feed := New(client, nil)

	calls := 0
	feed.Subscribe(func(context.Context, Change) { calls++ })

	change := mustChange(t, TableStatusEvents, Insert, map[string]any{"order_id": 4, "status": "picked_up"})
	if err := feed.Publish(context.Background(), change); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if calls != 0 {
		t.Fatalf("local subscribers called %d times before the bus delivered", calls)
	}
	if len(client.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(client.published))
	}
	msg := client.published[0]
	if msg.Headers["table"] != "order_status_events" || msg.Headers["type"] != "INSERT" {
		t.Errorf("headers = %v", msg.Headers)
	}

	// the consumer side hands the message back to the feed
	if err := feed.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls after Handle = %d, want 1", calls)
	}
}

func TestPublishErrorIsWrapped(t *testing.T) {
	boom := errors.New("broker down")
	feed := New(&recordingClient{enabled: true, err: boom}, nil)
	err := feed.Publish(context.Background(), mustChange(t, TableOrders, Insert, struct{}{}))
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped broker error", err)
	}
}

func TestHandleRejectsGarbage(t *testing.T) {
	feed := New(nil, nil)
	if err := feed.Handle(context.Background(), messaging.Message{Value: []byte("nope")}); err == nil {
		t.Error("expected decode error")
	}
}

func TestUnsubscribe(t *testing.T) {
	feed := New(nil, nil)
	calls := 0
	id := feed.Subscribe(func(context.Context, Change) { calls++ })
	feed.Subscribe(func(context.Context, Change) {})
	if feed.SubscriberCount() != 2 {
		t.Fatalf("SubscriberCount = %d, want 2", feed.SubscriberCount())
	}
	feed.Unsubscribe(id)
	feed.Unsubscribe(999)
	feed.Dispatch(context.Background(), mustChange(t, TableOrders, Insert, struct{}{}))
	if calls != 0 {
		t.Errorf("unsubscribed handler called %d times", calls)
	}
	if feed.SubscriberCount() != 1 {
		t.Errorf("SubscriberCount = %d, want 1", feed.SubscriberCount())
	}
}

func TestChangeFields(t *testing.T) {
	c := mustChange(t, TableOrders, Update, map[string]any{"id": 3, "driver_id": "d-1"})
	fields, err := c.Fields()
	if err != nil {
		t.Fatalf("Fields: %v", err)
	}
	var driver string
	if err := json.Unmarshal(fields["driver_id"], &driver); err != nil || driver != "d-1" {
		t.Errorf("driver_id = %q, %v", driver, err)
	}
	if _, ok := fields["current_status"]; ok {
		t.Error("partial record should not carry current_status")
	}
}
