package changefeed

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Table names a relation whose row changes are published.
type Table string

const (
	TableOrders       Table = "orders"
	TableStatusEvents Table = "order_status_events"
)

// EventType is the kind of row change.
type EventType string

const (
	Insert EventType = "INSERT"
	Update EventType = "UPDATE"
)

// Change is a row-level notification. Record carries the new row, which may
// be partial for updates.
type Change struct {
	Table           Table           `json:"table"`
	Type            EventType       `json:"type"`
	Record          json.RawMessage `json:"new"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// NewChange encodes record into a Change stamped with the current time.
func NewChange(table Table, typ EventType, record any) (Change, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return Change{}, fmt.Errorf("encode %s %s record: %w", table, typ, err)
	}
	return Change{
		Table:           table,
		Type:            typ,
		Record:          raw,
		CommitTimestamp: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the record into dst.
func (c Change) Decode(dst any) error {
	if len(c.Record) == 0 {
		return errors.New("change has no record")
	}
	return json.Unmarshal(c.Record, dst)
}

// Fields returns the top-level keys present in the record.
func (c Change) Fields() (map[string]json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if err := c.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// Filter restricts a subscription to one table and event type. Empty fields
// match anything.
type Filter struct {
	Table Table
	Type  EventType
}

func (f Filter) matches(c Change) bool {
	if f.Table != "" && f.Table != c.Table {
		return false
	}
	if f.Type != "" && f.Type != c.Type {
		return false
	}
	return true
}
