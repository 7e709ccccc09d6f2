package rndis

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// State is the adapter's position in the RNDIS initialization sequence.
type State string

const (
	StateUninitialized   State = "uninitialized"
	StateInitialized     State = "initialized"
	StateDataInitialized State = "data-initialized"
)

func (s State) String() string { return string(s) }

const (
	eventInitialize  = "initialize"
	eventSetFilter   = "set-filter"
	eventClearFilter = "clear-filter"
	eventReset       = "reset"
)

var allStates = []string{string(StateUninitialized), string(StateInitialized), string(StateDataInitialized)}

// stateEvents allows DataInitialized to be entered only from Initialized (or
// re-entered). A non-zero filter set before Initialize is stored and takes
// effect when Initialize arrives; a zero filter moves any state to
// Initialized.
var stateEvents = fsm.Events{
	{
		Name: eventInitialize,
		Src:  allStates,
		Dst:  string(StateInitialized),
	},
	{
		Name: eventSetFilter,
		Src:  []string{string(StateInitialized), string(StateDataInitialized)},
		Dst:  string(StateDataInitialized),
	},
	{
		Name: eventClearFilter,
		Src:  allStates,
		Dst:  string(StateInitialized),
	},
	{
		Name: eventReset,
		Src:  allStates,
		Dst:  string(StateUninitialized),
	},
}

func newStateMachine(onEnter func(from, to State)) *fsm.FSM {
	callbacks := fsm.Callbacks{}
	if onEnter != nil {
		callbacks["enter_state"] = func(_ context.Context, e *fsm.Event) {
			onEnter(State(e.Src), State(e.Dst))
		}
	}
	return fsm.NewFSM(string(StateUninitialized), stateEvents, callbacks)
}

// fire runs event and reports whether the state changed. Events not allowed
// from the current state are ignored.
func fire(m *fsm.FSM, event string) bool {
	before := m.Current()
	err := m.Event(context.Background(), event)
	if err != nil {
		var invalid fsm.InvalidEventError
		if errors.Is(err, fsm.NoTransitionError{}) || errors.As(err, &invalid) {
			return false
		}
		panic("rndis: state machine: " + err.Error())
	}
	return m.Current() != before
}
