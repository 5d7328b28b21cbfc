// Package logging adapts github.com/go-logr/logr to core.Logger.
package logging

import (
	"log"
	"os"

	"github.com/Swind/go-task-runtime/core"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

// DebugLevel is the logr verbosity used for core Debug records.
const DebugLevel = 1

// Logger routes core log records to a logr.Logger.
//
// Debug maps to V(DebugLevel).Info, Info and Warn map to Info (Warn adds
// severity=warning), and Error maps to logr's Error. An "error" field holding
// an error value becomes the logr error argument.
type Logger struct {
	sink logr.Logger
}

var _ core.Logger = (*Logger)(nil)

// New wraps sink.
func New(sink logr.Logger) *Logger {
	return &Logger{sink: sink}
}

// NewStdLogger writes to stderr through the standard log package.
// verbose enables Debug records.
func NewStdLogger(name string, verbose bool) *Logger {
	sink := stdr.New(log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds))
	if verbose {
		stdr.SetVerbosity(DebugLevel)
	}
	if name != "" {
		sink = sink.WithName(name)
	}
	return New(sink)
}

// Logr returns the wrapped logr.Logger.
func (l *Logger) Logr() logr.Logger {
	return l.sink
}

// WithValues returns a Logger that adds fields to every record.
func (l *Logger) WithValues(fields ...core.Field) *Logger {
	return &Logger{sink: l.sink.WithValues(keysAndValues(fields)...)}
}

func (l *Logger) Debug(msg string, fields ...core.Field) {
	l.sink.V(DebugLevel).Info(msg, keysAndValues(fields)...)
}

func (l *Logger) Info(msg string, fields ...core.Field) {
	l.sink.Info(msg, keysAndValues(fields)...)
}

func (l *Logger) Warn(msg string, fields ...core.Field) {
	kv := append([]any{"severity", "warning"}, keysAndValues(fields)...)
	l.sink.Info(msg, kv...)
}

func (l *Logger) Error(msg string, fields ...core.Field) {
	var err error
	rest := fields[:0:0]
	for _, f := range fields {
		if e, ok := f.Value.(error); ok && f.Key == "error" && err == nil {
			err = e
			continue
		}
		rest = append(rest, f)
	}
	l.sink.Error(err, msg, keysAndValues(rest)...)
}

func keysAndValues(fields []core.Field) []any {
	if len(fields) == 0 {
		return nil
	}
	kv := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		kv = append(kv, f.Key, f.Value)
	}
	return kv
}
