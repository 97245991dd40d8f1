package bus

import "fmt"

// Topic construction. Topics are structural: subscribers compute the exact
// topic string from the ids they know about.

// ProcessInstanceTerminatedTopic is published when a TerminateEndEvent is
// reached; every live handler of the instance listens for it.
func ProcessInstanceTerminatedTopic(processInstanceID string) string {
	return fmt.Sprintf("/processengine/process/%s/terminated", processInstanceID)
}

// ProcessInstanceEndedTopic is published with the final result when a
// process instance runs to completion.
func ProcessInstanceEndedTopic(processInstanceID string) string {
	return fmt.Sprintf("/processengine/process/%s/ended", processInstanceID)
}

// EndEventReachedTopic is published whenever any end event of the given
// correlation and process model is reached.
func EndEventReachedTopic(correlationID, processModelID string) string {
	return fmt.Sprintf("/processengine/correlation/%s/processmodel/%s/ended", correlationID, processModelID)
}

// SpecificEndEventReachedTopic is published when one particular end event is
// reached; used by callers awaiting a specific outcome.
func SpecificEndEventReachedTopic(correlationID, processModelID, endEventID string) string {
	return fmt.Sprintf("/processengine/correlation/%s/processmodel/%s/node/%s/ended", correlationID, processModelID, endEventID)
}

// SubProcessEndedTopic carries the final payload of a sub-process run back
// to the sub-process node instance that spawned it.
func SubProcessEndedTopic(callerInstanceID string) string {
	return fmt.Sprintf("/processengine/subprocess/%s/ended", callerInstanceID)
}

// MessageTopic carries intermediate message throw/catch traffic.
func MessageTopic(messageName string) string {
	return fmt.Sprintf("/processengine/message/%s", messageName)
}

// SignalTopic carries signal throw/catch traffic.
func SignalTopic(signalName string) string {
	return fmt.Sprintf("/processengine/signal/%s", signalName)
}

// ExternalTaskCreatedTopic notifies workers polling the given worker topic
// that a new external task is available.
func ExternalTaskCreatedTopic(workerTopic string) string {
	return fmt.Sprintf("/externaltask/topic/%s/created", workerTopic)
}

// ExternalTaskFinishedTopic notifies the suspended handler owning the given
// flow node instance that its external task was finished or failed.
func ExternalTaskFinishedTopic(flowNodeInstanceID string) string {
	return fmt.Sprintf("/externaltask/flownodeinstance/%s/finished", flowNodeInstanceID)
}

// UserTaskWaitingTopic announces a user task waiting for completion.
func UserTaskWaitingTopic(correlationID, processModelID string) string {
	return fmt.Sprintf("/processengine/correlation/%s/processmodel/%s/usertask/waiting", correlationID, processModelID)
}

// UserTaskFinishedTopic carries the result for one suspended user task.
func UserTaskFinishedTopic(flowNodeInstanceID string) string {
	return fmt.Sprintf("/processengine/usertask/flownodeinstance/%s/finished", flowNodeInstanceID)
}

// FlowNodeEnteredTopic is published by the persistence facade whenever a
// flow node instance records its onEnter token. Observers subscribe to the
// engine lifecycle through these topics.
func FlowNodeEnteredTopic(processInstanceID string) string {
	return fmt.Sprintf("/processengine/process/%s/flownode/entered", processInstanceID)
}

// FlowNodeExitedTopic is published when a flow node instance finishes.
func FlowNodeExitedTopic(processInstanceID string) string {
	return fmt.Sprintf("/processengine/process/%s/flownode/exited", processInstanceID)
}

// FlowNodeErroredTopic is published when a flow node instance fails.
func FlowNodeErroredTopic(processInstanceID string) string {
	return fmt.Sprintf("/processengine/process/%s/flownode/errored", processInstanceID)
}
