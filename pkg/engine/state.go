package engine

import "github.com/brewkit/assistant-engine/pkg/assistant"

// runState tracks the lifecycle of one turn's remote run.
type runState int

const (
	// stateStreaming: the event stream is open but no run id is known yet.
	stateStreaming runState = iota
	// stateRunKnown: thread.run.created was observed and the run id recorded.
	stateRunKnown
	// stateAwaitingOutputs: the run is blocked on submit_tool_outputs.
	stateAwaitingOutputs
	// stateTerminal: a terminal event arrived; no further transitions.
	stateTerminal
)

func (s runState) String() string {
	switch s {
	case stateStreaming:
		return "streaming"
	case stateRunKnown:
		return "run_known"
	case stateAwaitingOutputs:
		return "awaiting_outputs"
	case stateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// nextState applies one received event to the state machine. Unknown events
// never change state; terminal states absorb everything.
func nextState(s runState, ev assistant.RunEvent) runState {
	if s == stateTerminal {
		return stateTerminal
	}

	switch {
	case ev.IsTerminal():
		return stateTerminal
	case ev.Event == assistant.EventRunCreated:
		if s == stateStreaming {
			return stateRunKnown
		}
		return s
	case ev.Event == assistant.EventRunRequiresAction:
		if s != stateStreaming {
			return stateAwaitingOutputs
		}
		return s
	default:
		return s
	}
}

// outputsSubmitted returns the state after a submission cycle resolves,
// whether the batch was delivered or discarded after cancellation.
func outputsSubmitted(s runState) runState {
	if s == stateAwaitingOutputs {
		return stateRunKnown
	}
	return s
}
