// Package jsonrpc implements the Client Library's JSON-RPC transport
// flavor — the Go analog of the original's
// TTSClientPrivateJsonRPC, which talks to the TTS plugin host over a
// JSON-RPC connection that exposes exactly one session per client.
// This asymmetry against the object-RPC flavor's many-sessions-per-
// client model is a documented Open Question in spec §9, not a bug:
// preserved here rather than papered over with a fake multi-session
// facade.
package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rdkcentral/tts-coordinator/pkg/ttsclient"
	"github.com/rdkcentral/tts-coordinator/pkg/ttsconfig"
	"github.com/rdkcentral/tts-coordinator/pkg/ttserrors"
	"github.com/rdkcentral/tts-coordinator/pkg/ttslog"
)

// ErrSessionAlreadyOpen is returned by CreateSession when this client
// already owns its one session; the JSON-RPC transport has no id
// space for a second concurrent session.
var ErrSessionAlreadyOpen = errors.New("jsonrpc: client already has an open session")

// Client is the single-session JSON-RPC client flavor.
type Client struct {
	sup *ttsclient.Supervisor

	mu        sync.Mutex
	sessionID uint32
	haveSess  bool

	callTimeout time.Duration

	activator *activator
	cancel    context.CancelFunc
}

// Dial connects to addr (a ws:// or wss:// URL serving the JSON-RPC
// plugin host endpoint). If controller is non-nil, the plugin is
// activated through it — and its status polled every 250ms until
// activated — before each dial attempt against addr itself, mirroring
// Service::activate/onActivation. A nil controller skips activation
// entirely, for deployments where the plugin host is already active or
// managed out of band.
func Dial(addr string, connCallback ttsclient.ConnectionCallback, controller PluginController, policy ActivationPolicy, activationCB ActivationCallback, log ttslog.Logger) *Client {
	c := &Client{callTimeout: 5 * time.Second}

	var act *activator
	if controller != nil {
		act = newActivator(controller, policy, activationCB, log)
	}
	c.activator = act

	c.sup = ttsclient.NewSupervisor(func(ctx context.Context) (ttsclient.Transport, error) {
		if act != nil {
			// Activation gets its own budget (policy.ActivationTimeout)
			// independent of ctx's per-attempt deadline, so a slow but
			// successful activation doesn't starve the websocket dial
			// that follows it of the time Supervisor allotted it.
			actCtx, cancelAct := context.WithTimeout(context.Background(), act.policy.ActivationTimeout)
			stop := make(chan struct{})
			go func() {
				select {
				case <-ctx.Done():
					cancelAct()
				case <-stop:
				}
			}()
			err := act.activate(actCtx)
			close(stop)
			cancelAct()
			if err != nil {
				return nil, err
			}
		}
		return dialTransport(ctx, addr)
	}, connCallback, log)

	if act != nil {
		if watcher, ok := controller.(PluginStateWatcher); ok {
			var watchCtx context.Context
			watchCtx, c.cancel = context.WithCancel(context.Background())
			go act.watch(watchCtx, watcher)
		}
	}

	return c
}

func (c *Client) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.callTimeout)
}

// codeResult is the wire shape of a bare error-code reply — see the
// identical convention in the objectrpc flavor.
type codeResult struct {
	Result int `json:"result"`
}

func (c *Client) callForCode(ctx context.Context, method string, params interface{}) error {
	var res codeResult
	if err := c.sup.Call(ctx, method, params, &res); err != nil {
		return err
	}
	return ttserrors.New(ttserrors.Code(res.Result))
}

func (c *Client) EnableTTS(enable bool) error {
	ctx, cancel := c.ctx()
	defer cancel()
	return c.callForCode(ctx, "enableTTS", enable)
}

func (c *Client) SetConfiguration(cfg *ttsconfig.Configuration) error {
	ctx, cancel := c.ctx()
	defer cancel()
	return c.callForCode(ctx, "setConfiguration", cfg)
}

// CreateSession opens this client's single session. A second call
// before DestroySession fails locally with ErrSessionAlreadyOpen —
// the server is never even asked, since the transport has nowhere to
// put a second session id.
func (c *Client) CreateSession(appID uint32, appName string) (uint32, error) {
	c.mu.Lock()
	if c.haveSess {
		c.mu.Unlock()
		return 0, ErrSessionAlreadyOpen
	}
	c.mu.Unlock()

	var res struct {
		SessionID uint32 `json:"sessionId"`
		Result    int    `json:"result"`
	}
	ctx, cancel := c.ctx()
	defer cancel()
	if err := c.sup.Call(ctx, "createSession", map[string]interface{}{"appId": appID, "appName": appName}, &res); err != nil {
		return 0, err
	}
	if code := ttserrors.Code(res.Result); code != ttserrors.OK {
		return 0, ttserrors.New(code)
	}

	c.mu.Lock()
	c.sessionID = res.SessionID
	c.haveSess = true
	c.mu.Unlock()
	return res.SessionID, nil
}

func (c *Client) DestroySession() error {
	c.mu.Lock()
	sid := c.sessionID
	c.haveSess = false
	c.mu.Unlock()

	ctx, cancel := c.ctx()
	defer cancel()
	return c.callForCode(ctx, "destroySession", sid)
}

func (c *Client) Speak(id uint64, text string, secure bool) error {
	c.mu.Lock()
	sid := c.sessionID
	ok := c.haveSess
	c.mu.Unlock()
	if !ok {
		return ttserrors.New(ttserrors.SessionNotActive)
	}
	ctx, cancel := c.ctx()
	defer cancel()
	return c.callForCode(ctx, "speak", map[string]interface{}{"sessionId": sid, "id": id, "text": text, "secure": secure})
}

func (c *Client) Events() <-chan ttsclient.EventMessage { return c.sup.Events() }

func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	return c.sup.Close()
}

// --- transport -------------------------------------------------------

type rpcEnvelope struct {
	ID     uint64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Event  *rpcEvent       `json:"event,omitempty"`
}

type rpcEvent struct {
	Name string                 `json:"name"`
	Data map[string]interface{} `json:"data"`
}

var nextCallID uint64

// wsTransport is the gorilla/websocket-backed ttsclient.Transport used
// by the JSON-RPC flavor.
type wsTransport struct {
	conn   *websocket.Conn
	events chan ttsclient.EventMessage

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan rpcEnvelope
}

func dialTransport(ctx context.Context, addr string) (ttsclient.Transport, error) {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, err
	}
	t := &wsTransport{
		conn:    conn,
		events:  make(chan ttsclient.EventMessage, 64),
		pending: make(map[uint64]chan rpcEnvelope),
	}
	go t.readLoop()
	return t, nil
}

func (t *wsTransport) readLoop() {
	defer close(t.events)
	for {
		_, payload, err := t.conn.ReadMessage()
		if err != nil {
			return
		}
		var env rpcEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			continue
		}
		if env.Event != nil {
			select {
			case t.events <- ttsclient.EventMessage{Name: env.Event.Name, Data: env.Event.Data}:
			default:
			}
			continue
		}
		t.mu.Lock()
		ch, ok := t.pending[env.ID]
		if ok {
			delete(t.pending, env.ID)
		}
		t.mu.Unlock()
		if ok {
			ch <- env
		}
	}
}

func (t *wsTransport) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := atomic.AddUint64(&nextCallID, 1)
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params for %s: %w", method, err)
	}

	ch := make(chan rpcEnvelope, 1)
	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()

	payload, err := json.Marshal(rpcEnvelope{ID: id, Method: method, Params: raw})
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	err = t.conn.WriteMessage(websocket.TextMessage, payload)
	t.writeMu.Unlock()
	if err != nil {
		return err
	}

	select {
	case env := <-ch:
		if out == nil || len(env.Result) == 0 {
			return nil
		}
		return json.Unmarshal(env.Result, out)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *wsTransport) Events() <-chan ttsclient.EventMessage { return t.events }

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
