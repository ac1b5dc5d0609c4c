// Package agent runs the scan loop: it keeps the conversation with
// the model, dispatches tool calls and decides when the scan is over.
package agent

import "fmt"

// State is the scan lifecycle state.
type State string

const (
	StateInit      State = "init"      // building prompts and deps
	StateReady     State = "ready"     // ready to run
	StateRunning   State = "running"   // scan loop active
	StateWaiting   State = "waiting"   // paused after an LLM failure, will resume
	StateCompleted State = "completed" // finished via finish_scan
	StateFailed    State = "failed"    // aborted or exhausted
)

var validTransitions = map[State][]State{
	StateInit:    {StateReady, StateFailed},
	StateReady:   {StateRunning, StateFailed},
	StateRunning: {StateWaiting, StateCompleted, StateFailed},
	StateWaiting: {StateRunning, StateFailed},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition reports an illegal state move.
type ErrInvalidTransition struct {
	From State
	To   State
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}
