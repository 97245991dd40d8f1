package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/plusxp/process-engine-core/bus"
)

// MetricsHandler translates engine life-cycle events into OpenTelemetry
// metrics: counters for flow node executions and failures, a counter for
// completed process instances.
type MetricsHandler struct {
	nodeExecutions metric.Int64Counter
	nodeFailures   metric.Int64Counter
	instancesEnded metric.Int64Counter
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create its instruments.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	nodeExec, err := meter.Int64Counter("processengine.flownode.executions",
		metric.WithDescription("Number of flow node executions"),
	)
	if err != nil {
		return nil, err
	}

	nodeFail, err := meter.Int64Counter("processengine.flownode.failures",
		metric.WithDescription("Number of flow node failures"),
	)
	if err != nil {
		return nil, err
	}

	ended, err := meter.Int64Counter("processengine.instance.completions",
		metric.WithDescription("Number of completed process instances"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		nodeExecutions: nodeExec,
		nodeFailures:   nodeFail,
		instancesEnded: ended,
	}, nil
}

// Handle processes one classified life-cycle event.
func (h *MetricsHandler) Handle(kind EventKind, msg bus.Message) {
	ctx := context.Background()
	switch kind {
	case EventFlowNodeExited:
		h.nodeExecutions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("flow_node_id", msg.FlowNodeID),
			attribute.String("process_model_id", msg.ProcessModelID),
		))
	case EventFlowNodeErrored:
		h.nodeFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("flow_node_id", msg.FlowNodeID),
			attribute.String("process_model_id", msg.ProcessModelID),
		))
	case EventInstanceEnded:
		h.instancesEnded.Add(ctx, 1, metric.WithAttributes(
			attribute.String("process_model_id", msg.ProcessModelID),
		))
	}
}

// Compile-time interface checks.
var (
	_ MessageHandler = (*MetricsHandler)(nil)
	_ MessageHandler = (*TracingHandler)(nil)
)
