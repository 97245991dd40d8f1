package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/plusxp/process-engine-core/core"
	"github.com/plusxp/process-engine-core/expression"
	"github.com/plusxp/process-engine-core/model"
)

func newTestFacade(t *testing.T) (*Facade, *CronScheduler) {
	t.Helper()
	scheduler := NewCronScheduler()
	t.Cleanup(func() { _ = scheduler.Close() })
	return NewFacade(scheduler, expression.NewExprEvaluator(), nil), scheduler
}

func TestFacadeValidate(t *testing.T) {
	facade, _ := newTestFacade(t)

	tests := []struct {
		name         string
		def          *model.TimerEventDefinition
		onStartEvent bool
		wantErr      bool
	}{
		{"duration anywhere", &model.TimerEventDefinition{Kind: model.TimerKindDuration, Value: "PT5M"}, false, false},
		{"date anywhere", &model.TimerEventDefinition{Kind: model.TimerKindDate, Value: "2030-01-01T00:00:00Z"}, false, false},
		{"cycle on start event", &model.TimerEventDefinition{Kind: model.TimerKindCycle, Value: "PT1H"}, true, false},
		{"cycle elsewhere rejected", &model.TimerEventDefinition{Kind: model.TimerKindCycle, Value: "PT1H"}, false, true},
		{"missing definition", nil, false, true},
		{"unknown kind", &model.TimerEventDefinition{Kind: "interval", Value: "PT1H"}, false, true},
		{"garbage duration", &model.TimerEventDefinition{Kind: model.TimerKindDuration, Value: "soon"}, false, true},
		{"expression value", &model.TimerEventDefinition{Kind: model.TimerKindDuration, Value: "${current.delay}"}, false, false},
		{"broken expression", &model.TimerEventDefinition{Kind: model.TimerKindDuration, Value: "${current.delay +}"}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := facade.Validate("timer-node", tt.def, tt.onStartEvent)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate: err = %v, wantErr = %v", err, tt.wantErr)
			}
			if err != nil && !core.IsConfigurationError(err) {
				t.Errorf("err %v is not a configuration error", err)
			}
		})
	}
}

func TestFacadeStartDurationFires(t *testing.T) {
	facade, _ := newTestFacade(t)

	fired := make(chan struct{})
	node := &model.FlowNode{ID: "catch-1", Type: model.NodeTypeIntermediateCatchEvent}
	def := &model.TimerEventDefinition{Kind: model.TimerKindDuration, Value: "PT0S"}

	cancel, err := facade.Start(node, def, nil, func() { close(fired) })
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer cancel()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("duration timer did not fire")
	}
}

func TestFacadeStartResolvesExpression(t *testing.T) {
	facade, _ := newTestFacade(t)

	fired := make(chan struct{})
	node := &model.FlowNode{ID: "catch-1", Type: model.NodeTypeIntermediateCatchEvent}
	def := &model.TimerEventDefinition{Kind: model.TimerKindDuration, Value: "${current.delay}"}
	tokenView := map[string]any{"current": map[string]any{"delay": "PT0S"}}

	cancel, err := facade.Start(node, def, tokenView, func() { close(fired) })
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer cancel()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("expression timer did not fire")
	}
}

func TestFacadeStartPastDateFiresImmediately(t *testing.T) {
	facade, _ := newTestFacade(t)

	fired := make(chan struct{})
	node := &model.FlowNode{ID: "catch-1", Type: model.NodeTypeIntermediateCatchEvent}
	def := &model.TimerEventDefinition{Kind: model.TimerKindDate, Value: "2000-01-01T00:00:00Z"}

	cancel, err := facade.Start(node, def, nil, func() { close(fired) })
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer cancel()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("past date timer did not fire")
	}
}

func TestSchedulerOnceCancel(t *testing.T) {
	scheduler := NewCronScheduler()
	defer scheduler.Close()

	var fired atomic.Bool
	cancel := scheduler.Once(50*time.Millisecond, func() { fired.Store(true) })
	cancel()

	time.Sleep(150 * time.Millisecond)
	if fired.Load() {
		t.Error("cancelled timer fired")
	}
}

func TestSchedulerPeriodicFiresRepeatedly(t *testing.T) {
	scheduler := NewCronScheduler()
	defer scheduler.Close()

	var count atomic.Int32
	cancel := scheduler.Periodic(time.Second, func() { count.Add(1) })
	defer cancel()

	deadline := time.After(5 * time.Second)
	for count.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("periodic timer fired %d times, want at least 2", count.Load())
		case <-time.After(100 * time.Millisecond):
		}
	}
}
