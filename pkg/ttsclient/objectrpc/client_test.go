package objectrpc

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rdkcentral/tts-coordinator/pkg/ttsclient"
	"github.com/rdkcentral/tts-coordinator/pkg/ttserrors"
)

// fakeTransport lets the tests drive Supervisor.Call without a real
// websocket connection: Call answers from results keyed by method name.
type fakeTransport struct {
	mu      sync.Mutex
	results map[string]interface{}
	events  chan ttsclient.EventMessage
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{results: make(map[string]interface{}), events: make(chan ttsclient.EventMessage, 8)}
}

func (f *fakeTransport) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	f.mu.Lock()
	res, ok := f.results[method]
	f.mu.Unlock()
	if !ok || out == nil {
		return nil
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (f *fakeTransport) Events() <-chan ttsclient.EventMessage { return f.events }
func (f *fakeTransport) Close() error                          { return nil }

func newTestClient(t *testing.T, ft *fakeTransport) *Client {
	t.Helper()
	c := &Client{sessionMap: make(map[uint32]*sessionInfo)}
	c.sup = ttsclient.NewSupervisor(func(ctx context.Context) (ttsclient.Transport, error) {
		return ft, nil
	}, nil, nil)
	t.Cleanup(func() { c.sup.Close() })

	deadline := time.After(time.Second)
	for !c.sup.Connected() {
		select {
		case <-deadline:
			t.Fatalf("supervisor never connected")
		case <-time.After(2 * time.Millisecond):
		}
	}
	return c
}

func TestCallForCodeDecodesNonOKResult(t *testing.T) {
	ft := newFakeTransport()
	ft.results["releasePlayerResource"] = map[string]interface{}{"result": int(ttserrors.ResourceBusy)}
	c := newTestClient(t, ft)

	err := c.ReleaseResource(1)
	if ttserrors.CodeOf(err) != ttserrors.ResourceBusy {
		t.Fatalf("ReleaseResource = %v, want ResourceBusy", err)
	}
}

func TestCallForCodeDecodesOK(t *testing.T) {
	ft := newFakeTransport()
	ft.results["enableTTS"] = map[string]interface{}{"result": int(ttserrors.OK)}
	c := newTestClient(t, ft)

	if err := c.EnableTTS(true); err != nil {
		t.Fatalf("EnableTTS = %v, want nil", err)
	}
}

func TestCreateSessionRegistersSessionAndReturnsID(t *testing.T) {
	ft := newFakeTransport()
	ft.results["createSession"] = map[string]interface{}{"sessionId": 5, "result": int(ttserrors.OK)}
	c := newTestClient(t, ft)

	cb := &recordingCallback{}
	id, err := c.CreateSession(1, "app", cb)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if id != 5 {
		t.Fatalf("CreateSession id = %d, want 5", id)
	}
	c.mu.Lock()
	_, ok := c.sessionMap[5]
	c.mu.Unlock()
	if !ok {
		t.Fatalf("CreateSession should register the session locally")
	}
}

func TestCreateSessionDuplicateFails(t *testing.T) {
	ft := newFakeTransport()
	ft.results["createSession"] = map[string]interface{}{"result": int(ttserrors.CreateSessionDuplicate)}
	c := newTestClient(t, ft)

	_, err := c.CreateSession(1, "app", nil)
	if ttserrors.CodeOf(err) != ttserrors.CreateSessionDuplicate {
		t.Fatalf("CreateSession = %v, want CreateSessionDuplicate", err)
	}
}

func TestDestroySessionRemovesLocalEntry(t *testing.T) {
	ft := newFakeTransport()
	ft.results["createSession"] = map[string]interface{}{"sessionId": 7, "result": int(ttserrors.OK)}
	ft.results["destroySession"] = map[string]interface{}{"result": int(ttserrors.OK)}
	c := newTestClient(t, ft)

	id, err := c.CreateSession(1, "app", nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := c.DestroySession(id); err != nil {
		t.Fatalf("DestroySession: %v", err)
	}
	c.mu.Lock()
	_, ok := c.sessionMap[id]
	c.mu.Unlock()
	if ok {
		t.Fatalf("DestroySession should remove the local entry")
	}
}

type recordingCallback struct {
	mu      sync.Mutex
	started bool
	spoke   bool
	text    string
}

func (r *recordingCallback) Started(id uint64, text string) {
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
}
func (r *recordingCallback) Spoke(id uint64, text string) {
	r.mu.Lock()
	r.spoke = true
	r.text = text
	r.mu.Unlock()
}
func (r *recordingCallback) ResourceAcquired()     {}
func (r *recordingCallback) ResourceReleased()     {}
func (r *recordingCallback) WillSpeak(uint64, string) {}
func (r *recordingCallback) Paused(uint64)         {}
func (r *recordingCallback) Resumed(uint64)        {}
func (r *recordingCallback) Cancelled(string)      {}
func (r *recordingCallback) Interrupted(uint64)    {}
func (r *recordingCallback) NetworkError(uint64)   {}
func (r *recordingCallback) PlaybackError(uint64)  {}

func TestDeliverRoutesEventsToCallback(t *testing.T) {
	cb := &recordingCallback{}
	deliver(cb, ttsclient.EventMessage{Name: "spoke", Data: map[string]interface{}{"id": float64(9), "text": "hi"}})

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.spoke || cb.text != "hi" {
		t.Fatalf("deliver(spoke) did not reach callback: %+v", cb)
	}
}

func TestDispatchEventsRoutesBySessionID(t *testing.T) {
	ft := newFakeTransport()
	c := &Client{sup: ttsclient.NewSupervisor(func(ctx context.Context) (ttsclient.Transport, error) {
		return ft, nil
	}, nil, nil), sessionMap: make(map[uint32]*sessionInfo)}
	defer c.sup.Close()
	go c.dispatchEvents()

	deadline := time.After(time.Second)
	for !c.sup.Connected() {
		select {
		case <-deadline:
			t.Fatalf("supervisor never connected")
		case <-time.After(2 * time.Millisecond):
		}
	}

	cb := &recordingCallback{}
	c.mu.Lock()
	c.sessionMap[3] = &sessionInfo{sessionID: 3, callback: cb}
	c.mu.Unlock()

	ft.events <- ttsclient.EventMessage{Name: "started", Data: map[string]interface{}{"sessionId": float64(3), "id": float64(1), "text": "hello"}}

	deliverDeadline := time.After(time.Second)
	for {
		cb.mu.Lock()
		started := cb.started
		cb.mu.Unlock()
		if started {
			return
		}
		select {
		case <-deliverDeadline:
			t.Fatalf("event never reached the registered callback")
		case <-time.After(2 * time.Millisecond):
		}
	}
}
