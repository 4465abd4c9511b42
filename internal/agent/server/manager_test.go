package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type serverFunc func(ctx context.Context) error

func (f serverFunc) Start(ctx context.Context) error { return f(ctx) }

func TestManagerStopsAllOnFailure(t *testing.T) {
	boom := errors.New("bind: address already in use")
	stopped := make(chan struct{})

	m := NewManager(
		serverFunc(func(ctx context.Context) error {
			<-ctx.Done()
			close(stopped)
			return nil
		}),
		nil,
		serverFunc(func(context.Context) error { return boom }),
	)

	err := m.Start(t.Context())
	assert.ErrorIs(t, err, boom)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("sibling server not stopped")
	}
}

func TestManagerReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	m := NewManager(serverFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}))

	cancel()
	assert.NoError(t, m.Start(ctx))
}
