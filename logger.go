package broker

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the six-level logging capability every broker component writes
// through. The default implementation is silent.
type Logger interface {
	Trace(msg string, kv ...any)
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Fatal(msg string, kv ...any)
}

// zerologLogger adapts rs/zerolog to the Logger interface and decorates
// every record with the owning module's name, matching
// casualjim-bubo/pkg/slogx's LoggerName attribute pattern.
type zerologLogger struct {
	z zerolog.Logger
}

// NewZerologLogger builds a Logger backed by zerolog, writing to w and
// tagging every record with moduleName. Pass io.Discard (or leave w nil, in
// which case os.Stderr is used but the level is left at its zero value) and
// call Silent() for a no-op logger instead.
func NewZerologLogger(w io.Writer, moduleName string) Logger {
	if w == nil {
		w = os.Stderr
	}
	z := zerolog.New(w).With().Timestamp().Str("module", moduleName).Logger()
	return &zerologLogger{z: z}
}

// Silent returns a Logger that discards every record, the broker's default.
func Silent() Logger {
	z := zerolog.New(io.Discard).Level(zerolog.Disabled)
	return &zerologLogger{z: z}
}

func toZerologFields(e *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	return e
}

func (l *zerologLogger) Trace(msg string, kv ...any) { toZerologFields(l.z.Trace(), kv).Msg(msg) }
func (l *zerologLogger) Debug(msg string, kv ...any) { toZerologFields(l.z.Debug(), kv).Msg(msg) }
func (l *zerologLogger) Info(msg string, kv ...any)  { toZerologFields(l.z.Info(), kv).Msg(msg) }
func (l *zerologLogger) Warn(msg string, kv ...any)  { toZerologFields(l.z.Warn(), kv).Msg(msg) }
func (l *zerologLogger) Error(msg string, kv ...any) { toZerologFields(l.z.Error(), kv).Msg(msg) }
// Fatal logs at error level rather than using zerolog's own Fatal, which
// calls os.Exit; a library must never terminate its host process.
func (l *zerologLogger) Fatal(msg string, kv ...any) { toZerologFields(l.z.Error(), kv).Msg(msg) }
