package idapi

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the minimal structured logging contract the client emits
// through. Keys and values alternate in keysAndValues.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// SimpleLogger writes human-readable lines to stderr. Intended for examples
// and tests; production users typically plug in NewZeroLogger or their own
// adapter.
type SimpleLogger struct{}

// NewSimpleLogger returns a plain stderr logger.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{}
}

func (l *SimpleLogger) Debug(msg string, keysAndValues ...any) { l.log("DEBUG", msg, keysAndValues) }
func (l *SimpleLogger) Info(msg string, keysAndValues ...any)  { l.log("INFO", msg, keysAndValues) }
func (l *SimpleLogger) Warn(msg string, keysAndValues ...any)  { l.log("WARN", msg, keysAndValues) }
func (l *SimpleLogger) Error(msg string, keysAndValues ...any) { l.log("ERROR", msg, keysAndValues) }

func (l *SimpleLogger) log(level, msg string, keysAndValues []any) {
	line := fmt.Sprintf("[%s] %s %s", level, time.Now().Format(time.RFC3339), msg)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		line += fmt.Sprintf(" %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	fmt.Fprintln(os.Stderr, line)
}

// ZeroLogger adapts a zerolog.Logger to the Logger contract.
type ZeroLogger struct {
	zlog zerolog.Logger
}

// NewZeroLogger builds a zerolog-backed logger at the given level. Unknown
// levels fall back to info. If pretty is true, output is console-formatted
// for human readability.
func NewZeroLogger(level string, pretty bool) *ZeroLogger {
	var l zerolog.Logger
	if pretty {
		l = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	} else {
		l = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	zLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		zLevel = zerolog.InfoLevel
	}
	return &ZeroLogger{zlog: l.Level(zLevel)}
}

// NewZeroLoggerWith wraps an existing zerolog.Logger, letting applications
// share their configured logger with the client.
func NewZeroLoggerWith(l zerolog.Logger) *ZeroLogger {
	return &ZeroLogger{zlog: l}
}

func (l *ZeroLogger) Debug(msg string, keysAndValues ...any) {
	l.emit(l.zlog.Debug(), msg, keysAndValues)
}

func (l *ZeroLogger) Info(msg string, keysAndValues ...any) {
	l.emit(l.zlog.Info(), msg, keysAndValues)
}

func (l *ZeroLogger) Warn(msg string, keysAndValues ...any) {
	l.emit(l.zlog.Warn(), msg, keysAndValues)
}

func (l *ZeroLogger) Error(msg string, keysAndValues ...any) {
	l.emit(l.zlog.Error(), msg, keysAndValues)
}

func (l *ZeroLogger) emit(e *zerolog.Event, msg string, keysAndValues []any) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		e = e.Interface(key, keysAndValues[i+1])
	}
	e.Msg(msg)
}
