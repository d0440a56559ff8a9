// Package ttsrpc implements the RPC dispatcher (C7): a small adapter
// that demuxes inbound RPC work onto the single goroutine that owns
// the Manager, Sessions, and Event Sources, so their ordering
// guarantees hold regardless of which transport goroutine an inbound
// request arrived on.
//
// Grounded on spec §4.7's "pipe wakes the event loop" description of
// the original's glib integration, translated into a buffered job
// channel drained by one owning goroutine rather than a raw pipe fd.
package ttsrpc

import (
	"context"
	"sync"

	"github.com/rdkcentral/tts-coordinator/pkg/ttslog"
)

// job is one unit of work queued for the dispatcher's owning goroutine.
type job func()

// Dispatcher runs every submitted job on a single goroutine, draining
// its queue to empty before waiting again — the Go analog of "a write
// to a pipe wakes the loop, which calls processSingleItem until the
// queue is drained."
type Dispatcher struct {
	queue     chan job
	closed    chan struct{}
	closeOnce sync.Once
	log       ttslog.Logger
}

// New starts the dispatcher's loop goroutine. queueDepth bounds
// back-pressure on Submit; 0 selects a sensible default.
func New(queueDepth int, log ttslog.Logger) *Dispatcher {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	if log == nil {
		log = ttslog.NoOp()
	}
	d := &Dispatcher{
		queue:  make(chan job, queueDepth),
		closed: make(chan struct{}),
		log:    log.With("component", "ttsrpc"),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	for {
		select {
		case j := <-d.queue:
			d.runSafely(j)
		case <-d.closed:
			return
		}
	}
}

func (d *Dispatcher) runSafely(j job) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("recovered panic in dispatched job", "panic", r)
		}
	}()
	j()
}

// Submit queues fn to run on the owning goroutine and returns
// immediately; fn's relative order against other Submit calls from the
// same caller is preserved, but no ordering is promised across callers
// beyond "queued before" happens-before "queued after."
func (d *Dispatcher) Submit(fn func()) {
	select {
	case d.queue <- fn:
	case <-d.closed:
	}
}

// Call queues fn and blocks the caller until it has run on the owning
// goroutine, returning whatever fn returns. Used by synchronous
// RPC method handlers (enableTTS, createSession, ...) that must hand
// their result back to the transport before returning.
func (d *Dispatcher) Call(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	type result struct {
		v   interface{}
		err error
	}
	done := make(chan result, 1)
	d.Submit(func() {
		v, err := fn()
		done <- result{v, err}
	})
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.closed:
		return nil, context.Canceled
	}
}

// Close stops the loop. Jobs already queued are not guaranteed to run.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.closed) })
}
