package server

import (
	"errors"
	"fmt"
)

// State is a step in the server's lifecycle.
type State int

const (
	Listening State = iota
	Accepted
	Probing
	Reporting
	Stopped
	Error
)

func (s State) String() string {
	switch s {
	case Listening:
		return "listening"
	case Accepted:
		return "accepted"
	case Probing:
		return "probing"
	case Reporting:
		return "reporting"
	case Stopped:
		return "stopped"
	case Error:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Event int

const (
	Accept Event = iota
	Trigger
	Abort // the connection was dropped before it triggered a run
	ProbeDone
	Reported
	Interrupt
	Failure
)

func (e Event) String() string {
	switch e {
	case Accept:
		return "accept"
	case Trigger:
		return "trigger"
	case Abort:
		return "abort"
	case ProbeDone:
		return "probe-done"
	case Reported:
		return "reported"
	case Interrupt:
		return "interrupt"
	case Failure:
		return "failure"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

var ErrInvalidTransition = errors.New("invalid state transition")

// A run in progress is never interrupted directly: the receiver stops early
// and the partial run is still reported before the server stops.
var transitions = map[State]map[Event]State{
	Listening: {Accept: Accepted, Interrupt: Stopped},
	Accepted:  {Trigger: Probing, Abort: Listening, Interrupt: Stopped},
	Probing:   {ProbeDone: Reporting},
	Reporting: {Reported: Listening},
}

// Next returns the state that ev leads to from s. Stopped and Error are
// terminal and absorb every event.
func Next(s State, ev Event) (State, error) {
	if s == Stopped || s == Error {
		return s, nil
	}
	if ev == Failure {
		return Error, nil
	}
	if next, ok := transitions[s][ev]; ok {
		return next, nil
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, s, ev)
}
