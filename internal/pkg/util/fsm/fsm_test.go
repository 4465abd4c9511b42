package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/looplab/fsm"
	"github.com/stretchr/testify/assert"
)

type payload struct{ n int }

func TestWrapEvent(t *testing.T) {
	var got int
	cb := WrapEvent(func(_ context.Context, _ *fsm.Event, p payload) error {
		got = p.n
		if p.n < 0 {
			return errors.New("negative")
		}
		return nil
	})

	e := &fsm.Event{Event: "tick", Args: []any{payload{n: 3}}}
	cb(context.Background(), e)
	assert.Equal(t, 3, got)
	assert.NoError(t, e.Err)

	e = &fsm.Event{Event: "tick", Args: []any{payload{n: -1}}}
	cb(context.Background(), e)
	assert.EqualError(t, e.Err, "negative")

	e = &fsm.Event{Event: "tick", Args: []any{"wrong"}}
	cb(context.Background(), e)
	assert.ErrorContains(t, e.Err, "unexpected argument string")

	e = &fsm.Event{Event: "tick"}
	cb(context.Background(), e)
	assert.Equal(t, 0, got)
}
