package exttask

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/plusxp/process-engine-core/bus"
	"github.com/plusxp/process-engine-core/core"
)

func testToken() *core.ProcessToken {
	return &core.ProcessToken{
		ProcessInstanceID:  "pi-1",
		ProcessModelID:     "order-process",
		CorrelationID:      "corr-1",
		FlowNodeInstanceID: "fni-1",
		Payload:            map[string]any{"orderId": "o-42"},
	}
}

func TestServiceCreateNotifiesWorkers(t *testing.T) {
	eventBus := bus.NewMemBus(bus.MemBusConfig{})
	defer eventBus.Close()
	service := NewService(NewMemStore(), eventBus, nil)

	sub := eventBus.Subscribe(bus.ExternalTaskCreatedTopic("payments"))
	defer sub.Close()

	task, err := service.Create(context.Background(), "payments", "task-pay", testToken())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.State != StatePending {
		t.Errorf("state = %s, want %s", task.State, StatePending)
	}

	select {
	case msg := <-sub.Events():
		if msg.FlowNodeInstanceID != "fni-1" {
			t.Errorf("flow node instance id = %q, want fni-1", msg.FlowNodeInstanceID)
		}
	case <-time.After(time.Second):
		t.Fatal("no created notification")
	}
}

func TestServiceFetchAndLockClaimsOnce(t *testing.T) {
	ctx := context.Background()
	eventBus := bus.NewMemBus(bus.MemBusConfig{})
	defer eventBus.Close()
	service := NewService(NewMemStore(), eventBus, nil)

	if _, err := service.Create(ctx, "payments", "task-pay", testToken()); err != nil {
		t.Fatal(err)
	}

	first, err := service.FetchAndLock(ctx, "payments", "worker-a", 10, time.Minute)
	if err != nil {
		t.Fatalf("FetchAndLock: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("first fetch got %d tasks, want 1", len(first))
	}
	if first[0].State != StateLocked || first[0].WorkerID != "worker-a" {
		t.Errorf("task = %+v, want locked by worker-a", first[0])
	}

	second, err := service.FetchAndLock(ctx, "payments", "worker-b", 10, time.Minute)
	if err != nil {
		t.Fatalf("FetchAndLock: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second fetch got %d tasks, want 0", len(second))
	}
}

func TestServiceFinishResumesWaiter(t *testing.T) {
	ctx := context.Background()
	eventBus := bus.NewMemBus(bus.MemBusConfig{})
	defer eventBus.Close()
	service := NewService(NewMemStore(), eventBus, nil)

	task, err := service.Create(ctx, "payments", "task-pay", testToken())
	if err != nil {
		t.Fatal(err)
	}

	sub := eventBus.SubscribeOnce(bus.ExternalTaskFinishedTopic("fni-1"))
	defer sub.Close()

	if err := service.Finish(ctx, task.ID, map[string]any{"charged": true}); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	select {
	case msg := <-sub.Events():
		result, ok := msg.Payload.(map[string]any)
		if !ok || result["charged"] != true {
			t.Errorf("payload = %v, want charged=true", msg.Payload)
		}
		if msg.Err != nil {
			t.Errorf("err = %v, want nil", msg.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("no finished notification")
	}
}

func TestServiceFailCarriesError(t *testing.T) {
	ctx := context.Background()
	eventBus := bus.NewMemBus(bus.MemBusConfig{})
	defer eventBus.Close()
	service := NewService(NewMemStore(), eventBus, nil)

	task, err := service.Create(ctx, "payments", "task-pay", testToken())
	if err != nil {
		t.Fatal(err)
	}

	sub := eventBus.SubscribeOnce(bus.ExternalTaskFinishedTopic("fni-1"))
	defer sub.Close()

	cause := &core.BusinessError{Name: "CardDeclined", Code: "PAY-1"}
	if err := service.Fail(ctx, task.ID, cause); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	select {
	case msg := <-sub.Events():
		if _, ok := core.IsBusinessError(msg.Err); !ok {
			t.Errorf("err = %v, want business error", msg.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("no failed notification")
	}
}

func TestServiceFinishUnknownTask(t *testing.T) {
	eventBus := bus.NewMemBus(bus.MemBusConfig{})
	defer eventBus.Close()
	service := NewService(NewMemStore(), eventBus, nil)

	err := service.Finish(context.Background(), "missing", nil)
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("got %v, want ErrTaskNotFound", err)
	}
}
