package telemetry

import (
	"context"
	"errors"
)

// ErrSourceUnavailable is returned by a Source that has nothing to offer.
var ErrSourceUnavailable = errors.New("telemetry source unavailable")

// Source produces readings. Read must honour the context deadline.
type Source interface {
	Read(ctx context.Context) (Reading, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) (Reading, error)

func (f SourceFunc) Read(ctx context.Context) (Reading, error) { return f(ctx) }
