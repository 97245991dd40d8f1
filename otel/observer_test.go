package otel_test

import (
	"sync"
	"testing"
	"time"

	"github.com/plusxp/process-engine-core/bus"
	engineotel "github.com/plusxp/process-engine-core/otel"
)

type recordingHandler struct {
	mu    sync.Mutex
	kinds []engineotel.EventKind
}

func (r *recordingHandler) Handle(kind engineotel.EventKind, _ bus.Message) {
	r.mu.Lock()
	r.kinds = append(r.kinds, kind)
	r.mu.Unlock()
}

func (r *recordingHandler) snapshot() []engineotel.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]engineotel.EventKind(nil), r.kinds...)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		msg  bus.Message
		want engineotel.EventKind
	}{
		{
			name: "entered",
			msg:  bus.Message{Topic: bus.FlowNodeEnteredTopic("pi-1"), ProcessInstanceID: "pi-1"},
			want: engineotel.EventFlowNodeEntered,
		},
		{
			name: "exited",
			msg:  bus.Message{Topic: bus.FlowNodeExitedTopic("pi-1"), ProcessInstanceID: "pi-1"},
			want: engineotel.EventFlowNodeExited,
		},
		{
			name: "errored",
			msg:  bus.Message{Topic: bus.FlowNodeErroredTopic("pi-1"), ProcessInstanceID: "pi-1"},
			want: engineotel.EventFlowNodeErrored,
		},
		{
			name: "instance ended",
			msg:  bus.Message{Topic: bus.ProcessInstanceEndedTopic("pi-1"), ProcessInstanceID: "pi-1"},
			want: engineotel.EventInstanceEnded,
		},
		{
			name: "unrelated topic",
			msg:  bus.Message{Topic: bus.MessageTopic("order-received"), ProcessInstanceID: "pi-1"},
			want: engineotel.EventUnclassified,
		},
		{
			name: "no instance id",
			msg:  bus.Message{Topic: bus.FlowNodeEnteredTopic("pi-1")},
			want: engineotel.EventUnclassified,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := engineotel.Classify(tc.msg); got != tc.want {
				t.Errorf("Classify = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestObserverDispatchesLifecycleEvents(t *testing.T) {
	eventBus := bus.NewMemBus(bus.MemBusConfig{})
	defer func() { _ = eventBus.Close() }()

	rec := &recordingHandler{}
	observer := engineotel.NewObserver(eventBus, rec)

	eventBus.Publish(bus.FlowNodeEnteredTopic("pi-1"), bus.Message{
		Topic:             bus.FlowNodeEnteredTopic("pi-1"),
		ProcessInstanceID: "pi-1",
		CreatedAt:         time.Now(),
	})
	eventBus.Publish(bus.MessageTopic("noise"), bus.Message{
		Topic:     bus.MessageTopic("noise"),
		CreatedAt: time.Now(),
	})
	eventBus.Publish(bus.ProcessInstanceEndedTopic("pi-1"), bus.Message{
		Topic:             bus.ProcessInstanceEndedTopic("pi-1"),
		ProcessInstanceID: "pi-1",
		CreatedAt:         time.Now(),
	})

	deadline := time.After(2 * time.Second)
	for {
		kinds := rec.snapshot()
		if len(kinds) >= 2 {
			if kinds[0] != engineotel.EventFlowNodeEntered || kinds[1] != engineotel.EventInstanceEnded {
				t.Fatalf("kinds = %v, want [entered, instance ended]", kinds)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %v", rec.snapshot())
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := observer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
