package logbuffer

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// DefaultSource is used for entries logged without a logger name.
const DefaultSource = "SYSTEM"

// Narrative field keys folded into the message.
const (
	FieldIntent = "intent"
	FieldReason = "reason"
	FieldAction = "action"
)

// Core is a zapcore.Core that appends every entry to a Buffer. It is teed
// next to the regular output, so components log once and the dashboard
// sees the line under the name of the logger that produced it.
type Core struct {
	zapcore.LevelEnabler

	buf    *Buffer
	fields []zapcore.Field
}

var _ zapcore.Core = (*Core)(nil)

// NewCore returns a core writing entries at or above enab into buf.
func NewCore(buf *Buffer, enab zapcore.LevelEnabler) *Core {
	return &Core{LevelEnabler: enab, buf: buf}
}

func (c *Core) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = make([]zapcore.Field, 0, len(c.fields)+len(fields))
	clone.fields = append(clone.fields, c.fields...)
	clone.fields = append(clone.fields, fields...)
	return &clone
}

func (c *Core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *Core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	c.buf.Append(Entry{
		Timestamp: ent.Time,
		Source:    sourceOf(ent.LoggerName),
		Level:     levelOf(ent.Level),
		Message:   narrative(ent.Message, enc.Fields),
	})
	return nil
}

func (c *Core) Sync() error { return nil }

// sourceOf keeps the last segment of a dotted logger name.
func sourceOf(loggerName string) string {
	if loggerName == "" {
		return DefaultSource
	}
	if i := strings.LastIndexByte(loggerName, '.'); i >= 0 {
		loggerName = loggerName[i+1:]
	}
	return strings.ToUpper(loggerName)
}

func levelOf(l zapcore.Level) Level {
	switch {
	case l < zapcore.InfoLevel:
		return LevelDebug
	case l == zapcore.InfoLevel:
		return LevelInfo
	case l == zapcore.WarnLevel:
		return LevelWarn
	default:
		return LevelError
	}
}

// narrative renders "Intent: i | msg | Reason: r | Action: a", skipping absent parts.
func narrative(msg string, fields map[string]any) string {
	var b strings.Builder

	if v, ok := fields[FieldIntent]; ok {
		fmt.Fprintf(&b, "Intent: %v | ", v)
	}
	b.WriteString(msg)
	if v, ok := fields[FieldReason]; ok {
		fmt.Fprintf(&b, " | Reason: %v", v)
	}
	if v, ok := fields["error"]; ok {
		fmt.Fprintf(&b, " | Error: %v", v)
	}
	if v, ok := fields[FieldAction]; ok {
		fmt.Fprintf(&b, " | Action: %v", v)
	}
	return b.String()
}
