package session

import (
	"errors"
	"fmt"
)

// ErrNotReady is wrapped by every StateError.
var ErrNotReady = errors.New("session not ready")

// ErrNoFace is returned by WaitForFace when no face showed up in time.
var ErrNoFace = errors.New("no face detected")

// StateError reports an operation called in the wrong session state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: session is %s", e.Op, e.State)
}

func (e *StateError) Unwrap() error {
	return ErrNotReady
}
