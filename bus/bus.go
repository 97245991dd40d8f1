// Package bus provides the event distribution system of the process engine.
// Handlers publish and subscribe to topic-addressed messages, enabling
// decoupled communication between the execution engine, waiting handlers,
// external workers and observers.
//
// Delivery is at-least-once to current subscribers only; there is no replay
// to subscribers that join after publish.
package bus

import "time"

// Message is one event delivered through the bus. The id fields identify the
// execution context the message belongs to; which of them are set depends on
// the topic.
type Message struct {
	Topic              string
	CorrelationID      string
	ProcessModelID     string
	ProcessInstanceID  string
	FlowNodeID         string
	FlowNodeInstanceID string
	Payload            any
	Err                error // set on failure notifications (e.g. external task errors)
	CreatedAt          time.Time
}

// EventBus distributes messages to subscribers.
type EventBus interface {
	// Publish sends a message to all subscribers of its topic.
	Publish(topic string, msg Message)

	// Subscribe registers a subscriber for a topic.
	// Returns a Subscription that must be closed when done.
	Subscribe(topic string) Subscription

	// SubscribeOnce registers a subscriber that receives at most one
	// message, after which the subscription disposes itself.
	SubscribeOnce(topic string) Subscription

	// SubscribeAll registers a subscriber that receives every message,
	// regardless of topic. Intended for observers (tracing, metrics).
	SubscribeAll() Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription receives messages for one topic.
type Subscription interface {
	// Events returns the channel messages are delivered on. The channel
	// is closed when the subscription is disposed.
	Events() <-chan Message

	// Close unsubscribes and releases resources. A message that fires
	// after Close is ignored, never double-delivered.
	Close() error
}
