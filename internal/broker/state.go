package broker

import "fmt"

// State is a step of the login handshake.
type State string

const (
	StateNotStarted           State = "NOT_STARTED"
	StateCredentialsSubmitted State = "CREDENTIALS_SUBMITTED"
	StateAuthenticated        State = "AUTHENTICATED"
	StateMFARequired          State = "MFA_REQUIRED"
	StateRejected             State = "REJECTED"
	StateExpired              State = "EXPIRED"
)

var transitions = map[State][]State{
	StateNotStarted:           {StateCredentialsSubmitted},
	StateCredentialsSubmitted: {StateAuthenticated, StateMFARequired, StateRejected},
	// A wrong sms/app code keeps the challenge open for one more try.
	StateMFARequired: {StateAuthenticated, StateRejected, StateExpired, StateMFARequired},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether the handshake may move from s to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition returns next, or an error when the move is not allowed.
func (s State) Transition(next State) (State, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("invalid handshake transition %s -> %s", s, next)
	}
	return next, nil
}

// StateFor maps an auth result onto the state it leads to.
func StateFor(r AuthResult) State {
	switch r.Status {
	case StatusAuthenticated:
		return StateAuthenticated
	case StatusMFARequired:
		return StateMFARequired
	default:
		if r.Reason == ReasonExpired {
			return StateExpired
		}
		return StateRejected
	}
}
