package probe

import (
	"context"
	"errors"

	"github.com/autopeer-io/vandash/internal/logbuffer"
)

// StaticProbe always succeeds. It keeps simulated subsystems ACTIVE.
type StaticProbe struct {
	name string
}

func NewStaticProbe(name string) *StaticProbe { return &StaticProbe{name: name} }

func (p *StaticProbe) Name() string { return p.name }

func (p *StaticProbe) Check(_ context.Context) error { return nil }

// LogBufferProbe checks the in-memory log ring.
type LogBufferProbe struct {
	name string
	buf  *logbuffer.Buffer
}

func NewLogBufferProbe(name string, buf *logbuffer.Buffer) *LogBufferProbe {
	return &LogBufferProbe{name: name, buf: buf}
}

func (p *LogBufferProbe) Name() string { return p.name }

func (p *LogBufferProbe) Check(_ context.Context) error {
	if p.buf == nil {
		return errors.Join(ErrFatal, errors.New("log buffer not configured"))
	}
	if p.buf.Len() > p.buf.Cap() {
		return errors.New("log buffer overfilled")
	}
	return nil
}
