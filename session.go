package gocedar

import "github.com/ugparu/gocedar/utils/lifecycle"

// SessionState is the lifecycle state of an encoder or decoder session.
type SessionState uint8

const (
	SessionCreated SessionState = iota
	SessionConfigured
	SessionInitialized
	SessionRunning
	SessionDestroyed
)

var sessionStateNames = [...]string{"created", "configured", "initialized", "running", "destroyed"}

// String returns the state name.
func (s SessionState) String() string {
	if int(s) < len(sessionStateNames) {
		return sessionStateNames[s]
	}
	return "unknown"
}

var sessionTransitions = lifecycle.Transitions[SessionState]{
	SessionCreated:     {SessionConfigured, SessionDestroyed},
	SessionConfigured:  {SessionConfigured, SessionInitialized, SessionDestroyed},
	SessionInitialized: {SessionRunning, SessionDestroyed},
	SessionRunning:     {SessionRunning, SessionDestroyed},
}

// NewSessionMachine returns a session state machine in the created state.
func NewSessionMachine(name string) *lifecycle.Machine[SessionState] {
	return lifecycle.NewMachine(name, SessionCreated, sessionTransitions)
}

// BuffersValid reports whether device buffers of a session in state s may be used.
func (s SessionState) BuffersValid() bool {
	return s == SessionInitialized || s == SessionRunning
}
