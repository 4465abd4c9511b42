package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches every *NotFoundError with errors.Is.
	ErrNotFound = errors.New("subsystem not found")
	// ErrInvalidState matches every *InvalidStateError with errors.Is.
	ErrInvalidState = errors.New("invalid subsystem state")
	// ErrHeartbeatMissed is the cause recorded by the watchdogs.
	ErrHeartbeatMissed = errors.New("heartbeat missed")
)

// NotFoundError is returned when a command names an unknown subsystem.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("subsystem %q not found", e.Name)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvalidStateError is returned when a command does not apply to the current state.
type InvalidStateError struct {
	Name  string
	State State
	// Want is the state the command requires.
	Want State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("subsystem %q is %s, expected %s", e.Name, e.State, e.Want)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }
