// Package ttsclient holds the reconnect/startup supervisor shared by
// the two transport-specific client flavors in its objectrpc and
// jsonrpc subpackages.
//
// Grounded on original_source/ttsclient/TTSClientPrivate.{h,cpp}:
// connectToTTSManager's retry-with-backoff loop, the
// m_cachedEnableTTS/m_cachedConfig replay-on-reconnect fields, and
// cleanupConnection's crash-vs-clean-shutdown distinction.
package ttsclient

import (
	"context"
	"sync"
	"time"

	"github.com/rdkcentral/tts-coordinator/pkg/ttsconfig"
	"github.com/rdkcentral/tts-coordinator/pkg/ttserrors"
	"github.com/rdkcentral/tts-coordinator/pkg/ttslog"
)

// Transport is whatever a concrete client flavor dials: a single
// logical connection to the ttsd RPC dispatcher plus its inbound
// event stream.
type Transport interface {
	Call(ctx context.Context, method string, params interface{}, out interface{}) error
	Events() <-chan EventMessage
	Close() error
}

// EventMessage is a single connection- or session-scoped event pushed
// by the server, keyed the same way as ttsevent.Event.
type EventMessage struct {
	Name string
	Data map[string]interface{}
}

// Dial opens a fresh Transport. Supplied by the concrete client flavor
// (objectrpc or jsonrpc) so Supervisor stays transport-agnostic.
type Dial func(ctx context.Context) (Transport, error)

// ConnectionCallback mirrors the connection-scope events a consumer of
// the client library cares about.
type ConnectionCallback interface {
	OnServerConnected()
	OnServerClosed()
}

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second

	// restartWindow/maxRestarts bound the ordinary reconnect-backoff
	// loop below: every connect attempt (a failed dial as well as a
	// reconnect after a drop) is counted, and once more than
	// maxRestarts fall inside restartWindow the supervisor stops
	// retrying instead of spinning forever. This is unrelated to the
	// jsonrpc flavor's plugin-activation restart cap
	// (activator.shouldReactivate in pkg/ttsclient/jsonrpc), which
	// tracks its own, separate crash timestamps.
	restartWindow = 5 * time.Minute
	maxRestarts   = 10
)

// Supervisor owns one Transport's lifecycle: dial, replay cached
// enableTTS/Configuration once connected, detect disconnection, and
// retry with exponential backoff up to the restart cap.
type Supervisor struct {
	mu sync.Mutex

	dial     Dial
	cb       ConnectionCallback
	log      ttslog.Logger

	transport Transport
	connected bool

	cachedEnableTTS *bool
	cachedConfig    *ttsconfig.Configuration

	restarts []time.Time

	events   chan EventMessage

	quit     chan struct{}
	quitOnce sync.Once
}

// NewSupervisor starts the reconnect loop immediately in the
// background.
func NewSupervisor(dial Dial, cb ConnectionCallback, log ttslog.Logger) *Supervisor {
	if log == nil {
		log = ttslog.NoOp()
	}
	s := &Supervisor{
		dial:   dial,
		events: make(chan EventMessage, 128),
		cb:   cb,
		log:  log.With("component", "ttsclient"),
		quit: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Supervisor) run() {
	backoff := minBackoff
	for {
		select {
		case <-s.quit:
			return
		default:
		}

		if s.restartBudgetExhausted() {
			s.log.Error("server keeps crashing, giving up reconnect attempts")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		transport, err := s.dial(ctx)
		cancel()
		if err != nil {
			s.log.Warn("connect attempt failed", "err", err)
			if !s.sleep(backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = minBackoff
		s.onConnected(transport)
		s.drainUntilDisconnected(transport)
		s.onDisconnected()

		if !s.sleep(minBackoff) {
			return
		}
	}
}

func (s *Supervisor) restartBudgetExhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-restartWindow)
	kept := s.restarts[:0]
	for _, t := range s.restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.restarts = append(kept, now)
	return len(s.restarts) > maxRestarts
}

func (s *Supervisor) onConnected(t Transport) {
	s.mu.Lock()
	s.transport = t
	s.connected = true
	cachedEnable := s.cachedEnableTTS
	s.cachedEnableTTS = nil
	cachedConfig := s.cachedConfig
	s.cachedConfig = nil
	s.mu.Unlock()

	if s.cb != nil {
		s.cb.OnServerConnected()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cachedEnable != nil {
		_ = t.Call(ctx, "enableTTS", *cachedEnable, nil)
	}
	if cachedConfig != nil {
		_ = t.Call(ctx, "setConfiguration", cachedConfig.ToWire(), nil)
	}
}

func (s *Supervisor) onDisconnected() {
	s.mu.Lock()
	s.connected = false
	s.transport = nil
	s.mu.Unlock()
	if s.cb != nil {
		s.cb.OnServerClosed()
	}
}

// drainUntilDisconnected forwards every event from t to the
// Supervisor's own Events() channel, returning once t's event channel
// closes (transport gone) or the Supervisor itself is closed.
func (s *Supervisor) drainUntilDisconnected(t Transport) {
	for {
		select {
		case ev, ok := <-t.Events():
			if !ok {
				return
			}
			select {
			case s.events <- ev:
			default:
			}
		case <-s.quit:
			t.Close()
			return
		}
	}
}

func (s *Supervisor) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.quit:
		return false
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Call routes through the live transport, or caches enableTTS/
// setConfiguration calls and fails fast with FAIL (per spec §7) for
// everything else, exactly mirroring cleanupConnection's "replay
// enableTTS/configuration, fail everything else until reconnected."
func (s *Supervisor) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	s.mu.Lock()
	t := s.transport
	connected := s.connected
	s.mu.Unlock()

	// setConfiguration carries a *ttsconfig.Configuration at the client
	// API layer (so it can be cached/cloned while disconnected) but must
	// cross the wire as a Wire snapshot, since Configuration's fields are
	// unexported.
	if method == "setConfiguration" {
		cfg := params.(*ttsconfig.Configuration)
		if !connected {
			s.mu.Lock()
			s.cachedConfig = cfg.Clone()
			s.mu.Unlock()
			return nil
		}
		return t.Call(ctx, method, cfg.ToWire(), out)
	}

	if !connected {
		switch method {
		case "enableTTS":
			v := params.(bool)
			s.mu.Lock()
			s.cachedEnableTTS = &v
			s.mu.Unlock()
			return nil
		default:
			return ttserrors.New(ttserrors.Fail)
		}
	}
	return t.Call(ctx, method, params, out)
}

// Events returns the stream of connection- and session-scope events
// forwarded from whichever transport is currently live, surviving
// reconnects transparently.
func (s *Supervisor) Events() <-chan EventMessage { return s.events }

func (s *Supervisor) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Close stops the reconnect loop and tears down any live transport.
func (s *Supervisor) Close() error {
	s.quitOnce.Do(func() { close(s.quit) })
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t != nil {
		return t.Close()
	}
	return nil
}
