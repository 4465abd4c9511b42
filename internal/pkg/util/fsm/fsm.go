// Package fsm adapts typed callbacks to looplab/fsm.
package fsm

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
)

// WrapEvent turns fn into an fsm.Callback. The first event argument is
// passed to fn as T, and an error returned by fn is stored on the event so
// that the transition reports it.
func WrapEvent[T any](fn func(ctx context.Context, event *fsm.Event, args T) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		var args T
		if len(event.Args) > 0 {
			a, ok := event.Args[0].(T)
			if !ok {
				event.Err = fmt.Errorf("event %s: unexpected argument %T", event.Event, event.Args[0])
				return
			}
			args = a
		}
		if err := fn(ctx, event, args); err != nil {
			event.Err = err
		}
	}
}
