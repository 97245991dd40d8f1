package timer

import (
	"log/slog"
	"strings"
	"time"

	"github.com/plusxp/process-engine-core/core"
	"github.com/plusxp/process-engine-core/expression"
	"github.com/plusxp/process-engine-core/model"
)

// Facade validates timer definitions and turns them into scheduled firings.
// Timer values may be expressions of the form ${...}; they are evaluated
// against the token view before parsing.
type Facade struct {
	scheduler Scheduler
	evaluator expression.Evaluator
	logger    *slog.Logger
}

// NewFacade creates a timer facade. A nil logger falls back to slog.Default.
func NewFacade(scheduler Scheduler, evaluator expression.Evaluator, logger *slog.Logger) *Facade {
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{
		scheduler: scheduler,
		evaluator: evaluator,
		logger:    logger,
	}
}

// Validate checks a timer definition without scheduling it. Cycle timers are
// only legal on start events. Expression values can only be validated for
// expression syntax; their result shape is known at firing time.
func (f *Facade) Validate(flowNodeID string, def *model.TimerEventDefinition, onStartEvent bool) error {
	if def == nil {
		return core.NewConfigurationError(flowNodeID, "timer event without timer definition")
	}

	switch def.Kind {
	case model.TimerKindCycle:
		if !onStartEvent {
			return core.NewConfigurationError(flowNodeID, "cyclic timers are only supported on start events")
		}
	case model.TimerKindDuration, model.TimerKindDate:
		// One-shot kinds are legal everywhere.
	default:
		return core.NewConfigurationError(flowNodeID, "unknown timer kind %q", def.Kind)
	}

	if isTimerExpression(def.Value) {
		if err := f.evaluator.Validate(timerExpressionBody(def.Value)); err != nil {
			return core.NewConfigurationError(flowNodeID, "invalid timer expression %q: %v", def.Value, err)
		}
		return nil
	}

	return f.validateLiteral(flowNodeID, def.Kind, def.Value)
}

// Start resolves the timer value against the token and schedules the firing.
// The returned cancel stops a timer that has not fired yet.
func (f *Facade) Start(flowNode *model.FlowNode, def *model.TimerEventDefinition, tokenView map[string]any, fire func()) (CancelFunc, error) {
	onStartEvent := flowNode.Type == model.NodeTypeStartEvent
	if err := f.Validate(flowNode.ID, def, onStartEvent); err != nil {
		return nil, err
	}

	value, err := f.resolveValue(flowNode.ID, def.Value, tokenView)
	if err != nil {
		return nil, err
	}

	switch def.Kind {
	case model.TimerKindDuration:
		delay, err := ParseDuration(value)
		if err != nil {
			return nil, core.NewConfigurationError(flowNode.ID, "%v", err)
		}
		f.logger.Debug("duration timer armed", "flow_node_id", flowNode.ID, "delay", delay)
		return f.scheduler.Once(delay, fire), nil

	case model.TimerKindDate:
		at, err := ParseDate(value)
		if err != nil {
			return nil, core.NewConfigurationError(flowNode.ID, "%v", err)
		}
		delay := time.Until(at)
		// A date in the past fires immediately.
		f.logger.Debug("date timer armed", "flow_node_id", flowNode.ID, "fires_at", at)
		return f.scheduler.Once(delay, fire), nil

	case model.TimerKindCycle:
		every, err := ParseDuration(value)
		if err != nil {
			return nil, core.NewConfigurationError(flowNode.ID, "%v", err)
		}
		f.logger.Debug("cycle timer armed", "flow_node_id", flowNode.ID, "interval", every)
		return f.scheduler.Periodic(every, fire), nil
	}

	return nil, core.NewConfigurationError(flowNode.ID, "unknown timer kind %q", def.Kind)
}

// resolveValue evaluates an expression value against the token view, or
// returns the literal value unchanged.
func (f *Facade) resolveValue(flowNodeID, value string, tokenView map[string]any) (string, error) {
	if !isTimerExpression(value) {
		return value, nil
	}

	result, err := f.evaluator.Evaluate(timerExpressionBody(value), tokenView)
	if err != nil {
		return "", core.NewConfigurationError(flowNodeID, "evaluating timer expression %q: %v", value, err)
	}

	resolved, ok := result.(string)
	if !ok {
		return "", core.NewConfigurationError(flowNodeID, "timer expression %q evaluated to %T, want string", value, result)
	}
	return resolved, nil
}

func (f *Facade) validateLiteral(flowNodeID string, kind model.TimerKind, value string) error {
	var err error
	switch kind {
	case model.TimerKindDate:
		_, err = ParseDate(value)
	default:
		_, err = ParseDuration(value)
	}
	if err != nil {
		return core.NewConfigurationError(flowNodeID, "%v", err)
	}
	return nil
}

func isTimerExpression(value string) bool {
	return strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}")
}

func timerExpressionBody(value string) string {
	return strings.TrimSuffix(strings.TrimPrefix(value, "${"), "}")
}
