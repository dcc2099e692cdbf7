package pkg

const (
	HeaderTraceId   string = "X-Trace-Id"
	HeaderMessageId string = "X-Message-Id"
)

// Structured log field keys shared across the worker.
const (
	TraceId       string = "trace_id"
	TransactionId string = "transaction_id"
	ExecutionId   string = "execution_id"
	MessageId     string = "message_id"
	Channel       string = "channel"
	Attempt       string = "attempt"
)

// UnknownTransactionId substitutes a missing transaction id so evaluation never blocks.
const UnknownTransactionId = "unknown"

type WorkflowState string

const (
	WorkflowStateReceived    WorkflowState = "received"
	WorkflowStateEvaluated   WorkflowState = "evaluated"
	WorkflowStateDispatching WorkflowState = "dispatching"
	WorkflowStateDelivered   WorkflowState = "delivered"
	WorkflowStateFailed      WorkflowState = "failed"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s WorkflowState) IsTerminal() bool {
	return s == WorkflowStateDelivered || s == WorkflowStateFailed
}
