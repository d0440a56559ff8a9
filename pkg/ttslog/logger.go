// Package ttslog provides the structured logging seam used across the
// coordinator. Components depend on the Logger interface so tests can swap
// in a no-op; the server and client wire a zerolog-backed implementation.
package ttslog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

type Logger interface {
	Debug(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})

	// With returns a derived Logger carrying the given key/value pair on
	// every subsequent call, e.g. logger.With("sessionId", 7).
	With(key string, value interface{}) Logger
}

type zlog struct {
	l zerolog.Logger
}

// New builds a Logger writing structured JSON to w, or a human-readable
// console writer when pretty is true (used by cmd/ttsctl).
func New(w io.Writer, pretty bool) Logger {
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return &zlog{l: zerolog.New(w).With().Timestamp().Logger()}
}

// Default builds a Logger writing structured JSON to stderr.
func Default() Logger {
	return New(os.Stderr, false)
}

func (z *zlog) event(e *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}

func (z *zlog) Debug(msg string, kv ...interface{}) { z.event(z.l.Debug(), msg, kv) }
func (z *zlog) Info(msg string, kv ...interface{})  { z.event(z.l.Info(), msg, kv) }
func (z *zlog) Warn(msg string, kv ...interface{})  { z.event(z.l.Warn(), msg, kv) }
func (z *zlog) Error(msg string, kv ...interface{}) { z.event(z.l.Error(), msg, kv) }

func (z *zlog) With(key string, value interface{}) Logger {
	return &zlog{l: z.l.With().Interface(key, value).Logger()}
}

type noOp struct{}

// NoOp is a Logger that discards everything, used as the default in tests.
func NoOp() Logger { return noOp{} }

func (noOp) Debug(string, ...interface{})  {}
func (noOp) Info(string, ...interface{})   {}
func (noOp) Warn(string, ...interface{})   {}
func (noOp) Error(string, ...interface{})  {}
func (n noOp) With(string, interface{}) Logger { return n }
