package workflow

import (
	"fmt"

	"github.com/nimeshabuddhika/fraud-router/pkg"
	"go.uber.org/zap"
)

// transitions lists the only legal moves. Dispatching may repeat on retry
// without being reported as a new state.
var transitions = map[pkg.WorkflowState][]pkg.WorkflowState{
	pkg.WorkflowStateReceived:    {pkg.WorkflowStateEvaluated},
	pkg.WorkflowStateEvaluated:   {pkg.WorkflowStateDispatching},
	pkg.WorkflowStateDispatching: {pkg.WorkflowStateDispatching, pkg.WorkflowStateDelivered, pkg.WorkflowStateFailed},
}

// TransitionFunc observes state changes of a single run.
type TransitionFunc func(transactionID string, from, to pkg.WorkflowState)

type stateMachine struct {
	transactionID string
	state         pkg.WorkflowState
	observe       TransitionFunc
}

func newStateMachine(transactionID string, observe TransitionFunc) *stateMachine {
	return &stateMachine{transactionID: transactionID, state: pkg.WorkflowStateReceived, observe: observe}
}

func (m *stateMachine) advance(to pkg.WorkflowState) error {
	for _, allowed := range transitions[m.state] {
		if allowed == to {
			from := m.state
			m.state = to
			if m.observe != nil && from != to {
				m.observe(m.transactionID, from, to)
			}
			return nil
		}
	}
	return fmt.Errorf("illegal workflow transition %s -> %s", m.state, to)
}

// step advances and reports an illegal transition. Development loggers panic on it.
func (m *stateMachine) step(logger *zap.Logger, to pkg.WorkflowState) {
	if err := m.advance(to); err != nil {
		logger.DPanic("workflow_transition_rejected",
			zap.String(pkg.TransactionId, m.transactionID),
			zap.String("from", string(m.state)),
			zap.String("to", string(to)),
			zap.Error(err))
	}
}
