package client

import (
	"errors"
	"fmt"
)

// State is a step in the client's run lifecycle.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Streaming
	Finishing
	Closed
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Streaming:
		return "streaming"
	case Finishing:
		return "finishing"
	case Closed:
		return "closed"
	case Error:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Event moves the client from one State to the next.
type Event int

const (
	Connect Event = iota
	ConnectedEvent
	StartSent
	StreamComplete
	Finished
	Failure
)

func (e Event) String() string {
	switch e {
	case Connect:
		return "connect"
	case ConnectedEvent:
		return "connected"
	case StartSent:
		return "start-sent"
	case StreamComplete:
		return "stream-complete"
	case Finished:
		return "finished"
	case Failure:
		return "failure"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

var ErrInvalidTransition = errors.New("invalid state transition")

var transitions = map[State]map[Event]State{
	Idle:       {Connect: Connecting},
	Connecting: {ConnectedEvent: Connected},
	Connected:  {StartSent: Streaming},
	Streaming:  {StreamComplete: Finishing},
	Finishing:  {Finished: Closed},
}

// Next returns the state that ev leads to from s. Closed and Error are
// terminal and absorb every event.
func Next(s State, ev Event) (State, error) {
	if s == Closed || s == Error {
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
