// Package ttsevent implements the Event Source (C5): an ordered,
// listener-addressable event fan-out with back-pressure recovery, shared
// by the Manager and every Session per the "capability composition"
// design note (spec §9) — a component "implements EventSource" by holding
// one, rather than inheriting from a base class.
//
// Grounded on original_source/ttsengine/TTSEventSource.h's Emit/
// addListenerOrQueue pattern, translated from condition-variable-guarded
// queues to a single dispatcher goroutine draining a buffered channel.
package ttsevent

import (
	"sync"
	"time"
)

// Event is a single fan-out message: a name plus an arbitrary payload.
type Event struct {
	Name string
	Data map[string]interface{}
}

// Listener is a registered event sink. It returns true to signal it
// should be removed immediately — the "object destroyed" signal
// described in §4.5.
type Listener func(Event) (destroyed bool)

// sendTimeout bounds how long a single listener dispatch may block before
// the source marks itself hanging and moves on.
const sendTimeout = 2 * time.Second

type listenerEntry struct {
	id int
	fn Listener
}

type mutation struct {
	add    bool
	name   string
	id     int
	fn     Listener
}

// Source is the concrete Event Source implementation.
type Source struct {
	mu        sync.Mutex
	listeners map[string][]listenerEntry
	nextID    int

	sending bool
	pending []mutation

	queue   chan Event
	closed  chan struct{}
	closeOnce sync.Once

	hangingMu sync.Mutex
	hanging   bool
}

// New starts a Source with its dispatcher goroutine running. queueDepth
// bounds the per-source FIFO; a full queue applies back-pressure to
// SendEvent callers rather than growing unbounded.
func New(queueDepth int) *Source {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	s := &Source{
		listeners: make(map[string][]listenerEntry),
		queue:     make(chan Event, queueDepth),
		closed:    make(chan struct{}),
	}
	go s.dispatchLoop()
	return s
}

// On registers fn against name, returning a token usable with Del. If
// called during dispatch, the registration is queued and applied once the
// current drain completes — never mid-drain.
func (s *Source) On(name string, fn Listener) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	if s.sending {
		s.pending = append(s.pending, mutation{add: true, name: name, id: id, fn: fn})
		return id
	}
	s.listeners[name] = append(s.listeners[name], listenerEntry{id: id, fn: fn})
	return id
}

// Del removes the listener registered under id for name.
func (s *Source) Del(name string, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sending {
		s.pending = append(s.pending, mutation{add: false, name: name, id: id})
		return
	}
	s.removeLocked(name, id)
}

func (s *Source) removeLocked(name string, id int) {
	entries := s.listeners[name]
	for i, e := range entries {
		if e.id == id {
			s.listeners[name] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// SendEvent pushes ev onto the FIFO for asynchronous dispatch. It never
// blocks the caller beyond the queue's back-pressure: if the queue is
// full, the send blocks until space is available or the source is closed.
func (s *Source) SendEvent(ev Event) {
	select {
	case s.queue <- ev:
	case <-s.closed:
	}
}

// Close stops the dispatcher and clears all listeners. Idempotent.
func (s *Source) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		s.listeners = make(map[string][]listenerEntry)
		s.mu.Unlock()
	})
}

// Hanging reports whether the most recent dispatch detected a listener
// that failed to return within sendTimeout.
func (s *Source) Hanging() bool {
	s.hangingMu.Lock()
	defer s.hangingMu.Unlock()
	return s.hanging
}

func (s *Source) setHanging(v bool) {
	s.hangingMu.Lock()
	s.hanging = v
	s.hangingMu.Unlock()
}

func (s *Source) dispatchLoop() {
	for {
		select {
		case ev := <-s.queue:
			s.drain(ev)
		case <-s.closed:
			return
		}
	}
}

func (s *Source) drain(ev Event) {
	s.mu.Lock()
	s.sending = true
	entries := append([]listenerEntry(nil), s.listeners[ev.Name]...)
	s.mu.Unlock()

	var destroyedIDs []int
	for _, e := range entries {
		if s.deliverWithTimeout(e, ev) {
			destroyedIDs = append(destroyedIDs, e.id)
		}
	}

	s.mu.Lock()
	s.sending = false
	for _, id := range destroyedIDs {
		s.removeLocked(ev.Name, id)
	}
	pending := s.pending
	s.pending = nil
	for _, m := range pending {
		if m.add {
			s.listeners[m.name] = append(s.listeners[m.name], listenerEntry{id: m.id, fn: m.fn})
		} else {
			s.removeLocked(m.name, m.id)
		}
	}
	s.mu.Unlock()
}

// deliverWithTimeout calls the listener synchronously but bounds it with
// sendTimeout; a listener that blocks past the timeout marks the source
// hanging but is not itself removed (only an explicit "destroyed" return
// or a broken-pipe-style panic removes it).
func (s *Source) deliverWithTimeout(e listenerEntry, ev Event) (destroyed bool) {
	done := make(chan bool, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				// Transport reported stream-closed/broken-pipe: treat as
				// "the client is gone" and remove the listener.
				done <- true
				return
			}
		}()
		done <- e.fn(ev)
	}()

	select {
	case destroyed = <-done:
		s.setHanging(false)
		return destroyed
	case <-time.After(sendTimeout):
		s.setHanging(true)
		return false
	}
}
