package agent

import (
	"fmt"
	"log/slog"
	"slices"
)

// State is a step of one pipeline execution.
type State string

const (
	StatePending        State = "pending"
	StateCollecting     State = "collecting"
	StateAnalyzing      State = "analyzing"
	StateDecidingNotify State = "deciding_notify"
	StateNotifying      State = "notifying"
	StateSkipped        State = "skipped"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

var transitions = map[State][]State{
	StatePending:        {StateCollecting},
	StateCollecting:     {StateAnalyzing, StateDone, StateFailed},
	StateAnalyzing:      {StateDecidingNotify, StateFailed},
	StateDecidingNotify: {StateNotifying, StateSkipped},
	StateNotifying:      {StateDone},
	StateSkipped:        {StateDone},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// stateMachine tracks one execution. Illegal steps are logged and applied
// anyway so the audit record reflects what actually happened.
type stateMachine struct {
	current State
	trail   []State
	logger  *slog.Logger
}

func newStateMachine(logger *slog.Logger) *stateMachine {
	return &stateMachine{current: StatePending, trail: []State{StatePending}, logger: logger}
}

func (m *stateMachine) to(next State) {
	if !CanTransition(m.current, next) {
		m.logger.Error("illegal pipeline transition", "from", m.current, "to", next,
			"err", fmt.Errorf("transition %s -> %s", m.current, next))
	}
	m.current = next
	m.trail = append(m.trail, next)
}

func (m *stateMachine) visited(s State) bool {
	return slices.Contains(m.trail, s)
}
