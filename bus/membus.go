package bus

import "sync"

// MemBusConfig configures an in-memory event bus.
type MemBusConfig struct {
	// SubscriberBufferSize is the channel buffer size per subscriber (default: 256).
	SubscriberBufferSize int
}

// MemBus is an in-memory event bus implementation.
type MemBus struct {
	mu         sync.RWMutex
	subs       map[string][]*memSub // topic -> subscribers
	globalSubs []*memSub            // subscribers for all topics
	bufSize    int
	closed     bool
}

// NewMemBus creates a new in-memory event bus with the given configuration.
func NewMemBus(config MemBusConfig) *MemBus {
	bufSize := config.SubscriberBufferSize
	if bufSize <= 0 {
		bufSize = 256
	}
	return &MemBus{
		subs:    make(map[string][]*memSub),
		bufSize: bufSize,
	}
}

// Publish sends a message to all subscribers of the topic and to all global
// subscribers. If the bus is closed, the message is silently dropped.
func (b *MemBus) Publish(topic string, msg Message) {
	msg.Topic = topic

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs[topic] {
		sub.send(msg)
	}
	for _, sub := range b.globalSubs {
		sub.send(msg)
	}
}

// Subscribe registers a subscriber for a topic.
func (b *MemBus) Subscribe(topic string) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newMemSub(b.bufSize, false)
	b.subs[topic] = append(b.subs[topic], sub)
	return sub
}

// SubscribeOnce registers a subscriber that disposes itself after the first
// delivered message.
func (b *MemBus) SubscribeOnce(topic string) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newMemSub(1, true)
	b.subs[topic] = append(b.subs[topic], sub)
	return sub
}

// SubscribeAll registers a subscriber that receives every message.
func (b *MemBus) SubscribeAll() Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newMemSub(b.bufSize, false)
	b.globalSubs = append(b.globalSubs, sub)
	return sub
}

// Close shuts down the bus and all active subscriptions.
func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true

	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
	}
	for _, sub := range b.globalSubs {
		sub.close()
	}

	return nil
}

// memSub is an in-memory subscription.
type memSub struct {
	ch     chan Message
	once   bool
	mu     sync.Mutex
	closed bool
}

func newMemSub(bufSize int, once bool) *memSub {
	return &memSub{
		ch:   make(chan Message, bufSize),
		once: once,
	}
}

// Events returns the channel messages are delivered on.
func (s *memSub) Events() <-chan Message {
	return s.ch
}

// Close unsubscribes and releases resources.
func (s *memSub) Close() error {
	s.close()
	return nil
}

// close performs the actual channel close, guarded against double-close.
func (s *memSub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// send delivers a message to the subscription's channel. A message arriving
// after the subscription was closed is ignored. Once-subscriptions dispose
// themselves after the first delivery.
func (s *memSub) send(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	select {
	case s.ch <- msg:
		if s.once {
			s.closed = true
			close(s.ch)
		}
	default:
		// Drop if channel full.
	}
}

// Compile-time interface checks.
var _ EventBus = (*MemBus)(nil)
var _ Subscription = (*memSub)(nil)
