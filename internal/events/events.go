// Package events fans layer change notifications out to subscribers: a
// Kafka topic for downstream consumers and websocket clients of the map.
package events

import (
	"time"
)

const (
	OpUpsert  = "upsert"
	OpDelete  = "delete"
	OpReorder = "reorder"
)

type Event struct {
	Op    string    `json:"op"`
	Layer string    `json:"layer,omitempty"`
	Order []string  `json:"order,omitempty"`
	TS    time.Time `json:"ts"`
}

// Publisher must not block the caller.
type Publisher interface {
	Publish(ev Event)
}

type Noop struct{}

func (Noop) Publish(Event) {}

// Fanout hands every event to each publisher in turn.
type Fanout []Publisher

func (f Fanout) Publish(ev Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(ev)
		}
	}
}
