package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/plusxp/process-engine-core/bus"
)

// TracingHandler translates engine life-cycle events into OpenTelemetry
// spans: one root span per process instance, one child span per flow node
// instance.
type TracingHandler struct {
	tracer trace.Tracer

	mu            sync.RWMutex
	instanceSpans map[string]trace.Span       // process instance id -> span
	instanceCtxs  map[string]context.Context  // process instance id -> context (for child spans)
	nodeSpans     map[string]trace.Span       // flow node instance id -> span
}

// NewTracingHandler creates a TracingHandler that uses the given tracer to
// create spans from life-cycle events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:        tracer,
		instanceSpans: make(map[string]trace.Span),
		instanceCtxs:  make(map[string]context.Context),
		nodeSpans:     make(map[string]trace.Span),
	}
}

// Handle processes one classified life-cycle event.
func (h *TracingHandler) Handle(kind EventKind, msg bus.Message) {
	switch kind {
	case EventFlowNodeEntered:
		h.handleEntered(msg)
	case EventFlowNodeExited:
		h.handleFinished(msg, nil)
	case EventFlowNodeErrored:
		h.handleFinished(msg, msg.Err)
	case EventInstanceEnded:
		h.handleInstanceEnded(msg)
	}
}

// handleEntered starts a node span, lazily creating the instance root span
// on the first node of the instance.
func (h *TracingHandler) handleEntered(msg bus.Message) {
	parentCtx := h.instanceContext(msg)

	_, span := h.tracer.Start(parentCtx, "flownode:"+msg.FlowNodeID,
		trace.WithAttributes(
			attribute.String("processengine.process_instance_id", msg.ProcessInstanceID),
			attribute.String("processengine.flow_node_id", msg.FlowNodeID),
			attribute.String("processengine.flow_node_instance_id", msg.FlowNodeInstanceID),
		),
		trace.WithTimestamp(msg.CreatedAt),
	)

	h.mu.Lock()
	h.nodeSpans[msg.FlowNodeInstanceID] = span
	h.mu.Unlock()
}

func (h *TracingHandler) instanceContext(msg bus.Message) context.Context {
	h.mu.RLock()
	ctx, ok := h.instanceCtxs[msg.ProcessInstanceID]
	h.mu.RUnlock()
	if ok {
		return ctx
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if ctx, ok = h.instanceCtxs[msg.ProcessInstanceID]; ok {
		return ctx
	}

	ctx, span := h.tracer.Start(context.Background(), "processinstance:"+msg.ProcessModelID,
		trace.WithAttributes(
			attribute.String("processengine.process_instance_id", msg.ProcessInstanceID),
			attribute.String("processengine.process_model_id", msg.ProcessModelID),
			attribute.String("processengine.correlation_id", msg.CorrelationID),
		),
		trace.WithTimestamp(msg.CreatedAt),
	)
	h.instanceSpans[msg.ProcessInstanceID] = span
	h.instanceCtxs[msg.ProcessInstanceID] = ctx
	return ctx
}

func (h *TracingHandler) handleFinished(msg bus.Message, cause error) {
	h.mu.Lock()
	span, ok := h.nodeSpans[msg.FlowNodeInstanceID]
	if ok {
		delete(h.nodeSpans, msg.FlowNodeInstanceID)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	if cause != nil {
		span.SetStatus(codes.Error, cause.Error())
		span.RecordError(cause, trace.WithTimestamp(msg.CreatedAt))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(msg.CreatedAt))
}

func (h *TracingHandler) handleInstanceEnded(msg bus.Message) {
	h.mu.Lock()
	span, ok := h.instanceSpans[msg.ProcessInstanceID]
	if ok {
		delete(h.instanceSpans, msg.ProcessInstanceID)
		delete(h.instanceCtxs, msg.ProcessInstanceID)
	}
	h.mu.Unlock()

	if ok {
		span.SetStatus(codes.Ok, "")
		span.End(trace.WithTimestamp(msg.CreatedAt))
	}
}

// ActiveNodeSpanContext returns the SpanContext for the active span of the
// given flow node instance. Returns an empty SpanContext if not found.
func (h *TracingHandler) ActiveNodeSpanContext(flowNodeInstanceID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.nodeSpans[flowNodeInstanceID]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}
