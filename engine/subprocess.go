package engine

import (
	"context"

	"github.com/plusxp/process-engine-core/bus"
	"github.com/plusxp/process-engine-core/core"
	"github.com/plusxp/process-engine-core/model"
	"github.com/plusxp/process-engine-core/token"
)

// subProcessHandler runs the node's nested graph to completion inside the
// parent instance. The child context starts with the parent payload and its
// own result history; the last end event payload becomes the sub-process
// result. Errors raised inside, including error end events, surface on the
// sub-process node where the parent's boundary events can catch them.
type subProcessHandler struct {
	*baseHandler
}

func newSubProcessHandler(node *model.FlowNode, s *session) *subProcessHandler {
	h := &subProcessHandler{baseHandler: newBaseHandler(node, s)}
	h.hooks = h
	return h
}

func (h *subProcessHandler) executeInternally(ctx context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade) (*Outcome, error) {
	subFacade, err := mf.GetSubProcessFacade(h.flowNode)
	if err != nil {
		return nil, err
	}
	start, err := subFacade.GetStartEventByID("")
	if err != nil {
		return nil, err
	}

	childFacade := token.NewFacade(tf.ProcessInstanceID(), tf.ProcessModelID(), tf.CorrelationID(), tf.Identity())
	childFacade.AddResultForFlowNode(h.flowNode.ID, h.instanceID, t.Payload)

	childToken := childFacade.CreateProcessToken(t.Payload)
	childToken.Caller = h.instanceID

	// End events of the child report here instead of the instance topics.
	endSub := h.session.deps.Bus.Subscribe(bus.SubProcessEndedTopic(h.instanceID))
	defer func() { _ = endSub.Close() }()

	if err := h.session.drive(ctx, start, childToken, childFacade, subFacade, h.instanceID); err != nil {
		return nil, err
	}

	final := t.Payload
drain:
	for {
		select {
		case msg, ok := <-endSub.Events():
			if !ok {
				break drain
			}
			final = msg.Payload
		default:
			break drain
		}
	}

	next := t.Clone()
	next.Payload = final
	return h.proceed(next, tf, mf)
}
