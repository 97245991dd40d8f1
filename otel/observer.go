// Package otel provides OpenTelemetry integration for engine life-cycle
// events: spans per process instance and flow node, counters and histograms
// for executions and failures.
package otel

import (
	"sync"

	"github.com/plusxp/process-engine-core/bus"
)

// EventKind classifies a bus message for the observers.
type EventKind string

const (
	EventFlowNodeEntered EventKind = "flownode.entered"
	EventFlowNodeExited  EventKind = "flownode.exited"
	EventFlowNodeErrored EventKind = "flownode.errored"
	EventInstanceEnded   EventKind = "instance.ended"
	EventUnclassified    EventKind = ""
)

// Classify maps a bus message to its life-cycle event kind. Topics are
// structural, so the expected topic can be rebuilt from the message ids.
func Classify(msg bus.Message) EventKind {
	if msg.ProcessInstanceID == "" {
		return EventUnclassified
	}
	switch msg.Topic {
	case bus.FlowNodeEnteredTopic(msg.ProcessInstanceID):
		return EventFlowNodeEntered
	case bus.FlowNodeExitedTopic(msg.ProcessInstanceID):
		return EventFlowNodeExited
	case bus.FlowNodeErroredTopic(msg.ProcessInstanceID):
		return EventFlowNodeErrored
	case bus.ProcessInstanceEndedTopic(msg.ProcessInstanceID):
		return EventInstanceEnded
	}
	return EventUnclassified
}

// MessageHandler consumes classified life-cycle events.
type MessageHandler interface {
	Handle(kind EventKind, msg bus.Message)
}

// Observer pumps every bus message through the registered handlers.
type Observer struct {
	handlers []MessageHandler

	closeOnce sync.Once
	sub       bus.Subscription
	done      chan struct{}
}

// NewObserver subscribes to the bus and dispatches life-cycle events to the
// handlers until Close is called or the bus shuts down.
func NewObserver(eventBus bus.EventBus, handlers ...MessageHandler) *Observer {
	o := &Observer{
		handlers: handlers,
		sub:      eventBus.SubscribeAll(),
		done:     make(chan struct{}),
	}
	go o.pump()
	return o
}

func (o *Observer) pump() {
	defer close(o.done)
	for msg := range o.sub.Events() {
		kind := Classify(msg)
		if kind == EventUnclassified {
			continue
		}
		for _, handler := range o.handlers {
			handler.Handle(kind, msg)
		}
	}
}

// Close unsubscribes and waits for the pump to drain.
func (o *Observer) Close() error {
	o.closeOnce.Do(func() {
		_ = o.sub.Close()
	})
	<-o.done
	return nil
}
