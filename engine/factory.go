package engine

import (
	"sync"

	"github.com/plusxp/process-engine-core/core"
	"github.com/plusxp/process-engine-core/model"
)

// handlerFactory builds the handler for a flow node. Most handlers are
// created fresh per activation; converging parallel gateways are cached per
// session so every arriving branch talks to the same join instance.
type handlerFactory struct {
	session *session

	mu    sync.Mutex
	joins map[string]*parallelJoinHandler // flow node id -> shared join
}

func newHandlerFactory(s *session) *handlerFactory {
	return &handlerFactory{
		session: s,
		joins:   make(map[string]*parallelJoinHandler),
	}
}

func (f *handlerFactory) create(node *model.FlowNode) (Handler, error) {
	switch node.Type {
	case model.NodeTypeStartEvent:
		return newStartEventHandler(node, f.session), nil

	case model.NodeTypeEndEvent:
		return newEndEventHandler(node, f.session), nil

	case model.NodeTypeExclusiveGateway:
		return newExclusiveGatewayHandler(node, f.session), nil

	case model.NodeTypeParallelGateway:
		switch node.GatewayDirection {
		case model.GatewayDirectionDiverging:
			return newParallelSplitHandler(node, f.session), nil
		case model.GatewayDirectionConverging:
			return f.joinFor(node), nil
		}
		return nil, core.NewConfigurationError(node.ID, "parallel gateway must declare a direction")

	case model.NodeTypeServiceTask:
		if node.External {
			return newExternalServiceTaskHandler(node, f.session), nil
		}
		return newInternalServiceTaskHandler(node, f.session), nil

	case model.NodeTypeUserTask:
		return newUserTaskHandler(node, f.session), nil

	case model.NodeTypeScriptTask:
		return newScriptTaskHandler(node, f.session), nil

	case model.NodeTypeSubProcess:
		return newSubProcessHandler(node, f.session), nil

	case model.NodeTypeIntermediateCatchEvent:
		return newIntermediateCatchHandler(node, f.session), nil

	case model.NodeTypeIntermediateThrowEvent:
		return newIntermediateThrowHandler(node, f.session), nil

	case model.NodeTypeBoundaryEvent:
		// Boundary events fire through their attached activity, never as
		// ordinary successors.
		return nil, core.NewConfigurationError(node.ID, "boundary events are not directly executable")
	}

	return nil, core.NewConfigurationError(node.ID, "no handler registered for node type %q", node.Type)
}

// Compile-time interface checks.
var (
	_ Handler = (*startEventHandler)(nil)
	_ Handler = (*endEventHandler)(nil)
	_ Handler = (*exclusiveGatewayHandler)(nil)
	_ Handler = (*parallelSplitHandler)(nil)
	_ Handler = (*parallelJoinHandler)(nil)
	_ Handler = (*scriptTaskHandler)(nil)
	_ Handler = (*internalServiceTaskHandler)(nil)
	_ Handler = (*externalServiceTaskHandler)(nil)
	_ Handler = (*userTaskHandler)(nil)
	_ Handler = (*subProcessHandler)(nil)
	_ Handler = (*intermediateCatchHandler)(nil)
	_ Handler = (*intermediateThrowHandler)(nil)
)

// joinFor returns the session's shared join handler for the gateway.
func (f *handlerFactory) joinFor(node *model.FlowNode) *parallelJoinHandler {
	f.mu.Lock()
	defer f.mu.Unlock()

	join, ok := f.joins[node.ID]
	if !ok {
		join = newParallelJoinHandler(node, f.session)
		f.joins[node.ID] = join
	}
	return join
}
