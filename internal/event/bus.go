// Package event carries the runner's streaming event log to subscribers.
package event

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// The event names of the execution stream.
const (
	NodeStart         = "node:start"
	NodeComplete      = "node:complete"
	NodeError         = "node:error"
	NodeSkip          = "node:skip"
	ExecutionComplete = "execution:complete"
	ExecutionError    = "execution:error"
	Log               = "log"
)

// Event is one entry of an execution's event stream. Delivery is
// at-least-once per subscriber; subscribers must be idempotent on
// (ExecutionID, NodeID, Type).
type Event struct {
	Type        string         `json:"type"`
	ExecutionID string         `json:"executionId"`
	NodeID      string         `json:"nodeId,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   int64          `json:"timestamp"`
}

// Subscriber is a function that receives events.
type Subscriber func(evt *Event)

// Bus is an in-memory event bus fanning events out to subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Subscriber // channel → subscribers
	logger      *zap.SugaredLogger
}

// NewBus creates a new event bus.
func NewBus(logger *zap.SugaredLogger) *Bus {
	return &Bus{
		subscribers: make(map[string][]Subscriber),
		logger:      logger,
	}
}

// Subscribe registers a subscriber for a channel.
// channel can be "*" for all events, or "execution:{id}" for one execution.
func (b *Bus) Subscribe(channel string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = append(b.subscribers[channel], sub)
}

// Unsubscribe removes all subscribers for a channel.
func (b *Bus) Unsubscribe(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, channel)
}

// Publish sends an event to all matching subscribers, synchronously and in
// registration order.
func (b *Bus) Publish(evt *Event) {
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	b.logger.Debugw("Publishing event",
		"type", evt.Type,
		"execution_id", evt.ExecutionID,
		"node_id", evt.NodeID,
	)

	for _, sub := range b.subscribers["*"] {
		sub(evt)
	}

	if evt.ExecutionID != "" {
		channel := "execution:" + evt.ExecutionID
		for _, sub := range b.subscribers[channel] {
			sub(evt)
		}
	}
}
