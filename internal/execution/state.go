package execution

import (
	"errors"

	"github.com/sqlscribe/sqlscribe/internal/store"
)

// State is a step of one execution run.
type State int

const (
	StatePending State = iota
	StateCorrected
	StateFailed
	StateSucceeded
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCorrected:
		return "corrected"
	case StateFailed:
		return "failed"
	case StateSucceeded:
		return "succeeded"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s == StateFailed || s == StateSucceeded
}

var allowedTransitions = map[State][]State{
	StatePending:   {StateSucceeded, StateCorrected, StateFailed},
	StateCorrected: {StatePending},
}

// machine holds the mutable part of a run. Every store call is one
// Pending->X transition and every correction adds Corrected->Pending, so a
// run needs at most 2*maxCalls transitions before reaching a terminal state.
type machine struct {
	state          State
	sql            string
	attempt        int
	maxCalls       int
	transitions    int
	maxTransitions int
	tried          map[string]struct{}
	fixes          []Fix
	result         store.Result
	lastErr        error
}

func newMachine(sqlText string, maxCalls int) *machine {
	if maxCalls < 1 {
		maxCalls = 1
	}
	return &machine{
		state:          StatePending,
		sql:            sqlText,
		maxCalls:       maxCalls,
		maxTransitions: 2 * maxCalls,
		tried:          make(map[string]struct{}, maxCalls),
	}
}

// transition moves to next. An illegal move or an exhausted transition
// budget forces the run into StateFailed.
func (m *machine) transition(next State) {
	m.transitions++
	if m.transitions > m.maxTransitions || !canTransition(m.state, next) {
		if m.lastErr == nil {
			m.lastErr = errors.New("execution state machine exceeded its transition budget")
		}
		m.state = StateFailed
		return
	}
	m.state = next
}

func canTransition(from, to State) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (m *machine) failure() *Failure {
	message := "execution failed"
	if m.lastErr != nil {
		message = m.lastErr.Error()
	}
	return &Failure{
		Message: message,
		Attempt: m.attempt,
		SQL:     m.sql,
		Fixes:   m.fixes,
		Err:     m.lastErr,
	}
}
