package supervisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"

	fsmutil "github.com/autopeer-io/vandash/internal/pkg/util/fsm"
)

const (
	// EventSucceed (Active) records a heartbeat.
	EventSucceed = "event_succeed"
	// EventMiss records a missed heartbeat while restart budget remains.
	EventMiss = "event_miss"
	// EventExhaust records a missed heartbeat that used up the restart budget.
	EventExhaust = "event_exhaust"
	// EventFail records an unrecoverable error.
	EventFail = "event_fail"
	// EventReset (Manual) returns a faulty subsystem to probation.
	EventReset = "event_reset"
)

// entry is the mutable row of the record store. It is only touched with
// the supervisor lock held.
type entry struct {
	rec Record
	sub Subsystem

	// attempts counts the automatic restart attempts of the current failure
	// episode. Unlike RestartCount it starts over after a success or a reset.
	attempts int

	machine *fsm.FSM
}

// transitionArgs travels through fsm.Event to the callbacks.
type transitionArgs struct {
	entry      *entry
	cause      error
	maxRetries int
}

func newStateMachine(initial State) *fsm.FSM {
	live := []string{string(StateActive), string(StateWaiting)}

	events := fsm.Events{
		{Name: EventSucceed, Src: live, Dst: string(StateActive)},
		{Name: EventMiss, Src: live, Dst: string(StateWaiting)},
		{Name: EventExhaust, Src: live, Dst: string(StateFaulty)},
		{Name: EventFail, Src: live, Dst: string(StateFaulty)},

		// Only an operator leaves FAULTY.
		{Name: EventReset, Src: []string{string(StateFaulty)}, Dst: string(StateWaiting)},
	}

	callbacks := fsm.Callbacks{
		"enter_" + string(StateActive):  fsmutil.WrapEvent(actionEnterActive),
		"enter_" + string(StateWaiting): fsmutil.WrapEvent(actionEnterWaiting),
		"enter_" + string(StateFaulty):  fsmutil.WrapEvent(actionEnterFaulty),

		// Self transitions (WAITING -> WAITING) only fire after_ callbacks.
		"after_" + EventMiss: fsmutil.WrapEvent(actionMissed),
	}

	return fsm.NewFSM(string(initial), events, callbacks)
}

// fire runs event on the entry's machine and syncs the record state.
// Self transitions are not errors.
func fire(ctx context.Context, e *entry, event string, args transitionArgs) error {
	err := e.machine.Event(ctx, event, args)
	e.rec.State = State(e.machine.Current())

	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		return err
	}
	return nil
}

// actionEnterActive clears the failure episode.
func actionEnterActive(_ context.Context, e *fsm.Event, a transitionArgs) error {
	a.entry.attempts = 0
	a.entry.rec.Message = ""
	a.entry.rec.LastError = ""
	return nil
}

func actionEnterWaiting(_ context.Context, e *fsm.Event, a transitionArgs) error {
	switch e.Event {
	case EventReset:
		a.entry.attempts = 0
		a.entry.rec.LastError = ""
		a.entry.rec.Message = "manual reset"
	case EventMiss:
		a.entry.rec.Message = missMessage(a)
	}
	return nil
}

func actionMissed(_ context.Context, e *fsm.Event, a transitionArgs) error {
	if e.Src == e.Dst {
		a.entry.rec.Message = missMessage(a)
	}
	return nil
}

func actionEnterFaulty(_ context.Context, e *fsm.Event, a transitionArgs) error {
	cause := "unknown error"
	if a.cause != nil {
		cause = a.cause.Error()
	}
	a.entry.rec.LastError = cause

	if e.Event == EventExhaust {
		a.entry.rec.Message = "max retries exceeded, supervision stopped"
	} else {
		a.entry.rec.Message = "unrecoverable error"
	}
	return nil
}

func missMessage(a transitionArgs) string {
	cause := ErrHeartbeatMissed.Error()
	if a.cause != nil {
		cause = a.cause.Error()
	}
	return fmt.Sprintf("%s, restart attempt %d/%d", cause, a.entry.attempts, a.maxRetries)
}
