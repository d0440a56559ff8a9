// Package objectrpc implements the Client Library's full, multi-session
// transport flavor — the Go analog of the original's rtRemote-backed
// TTSClientPrivate, which lets one client process own any number of
// sessionId-keyed SessionInfo entries at once.
//
// Grounded on original_source/ttsclient/TTSClientPrivate.{h,cpp}:
// SessionInfo bookkeeping (appId/sessionId/gotResource/callback),
// connectToTTSManager's cached-state replay on reconnect (handled by
// ttsclient.Supervisor), and the event-dispatcher-with-refcount
// pattern for routing inbound session events back to the registered
// TTSSessionCallback.
package objectrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/rdkcentral/tts-coordinator/pkg/ttsclient"
	"github.com/rdkcentral/tts-coordinator/pkg/ttsconfig"
	"github.com/rdkcentral/tts-coordinator/pkg/ttserrors"
	"github.com/rdkcentral/tts-coordinator/pkg/ttslog"
)

// SessionCallback receives the session-scope events listed in spec
// §6.2 for one session this client created.
type SessionCallback interface {
	Started(id uint64, text string)
	Spoke(id uint64, text string)
	ResourceAcquired()
	ResourceReleased()
	WillSpeak(id uint64, text string)
	Paused(id uint64)
	Resumed(id uint64)
	Cancelled(idsCSV string)
	Interrupted(id uint64)
	NetworkError(id uint64)
	PlaybackError(id uint64)
}

type sessionInfo struct {
	appID     uint32
	sessionID uint32
	appName   string
	callback  SessionCallback
}

// Client is a full object-RPC client capable of holding many
// concurrent sessions.
type Client struct {
	sup *ttsclient.Supervisor

	mu         sync.Mutex
	sessionMap map[uint32]*sessionInfo

	connCallback ttsclient.ConnectionCallback
}

// Dial connects to the ttsd RPC endpoint at addr (a ws:// or wss://
// URL). The returned Client's reconnect supervisor runs until Close.
func Dial(addr string, connCallback ttsclient.ConnectionCallback, log ttslog.Logger) *Client {
	c := &Client{
		sessionMap:   make(map[uint32]*sessionInfo),
		connCallback: connCallback,
	}
	c.sup = ttsclient.NewSupervisor(func(ctx context.Context) (ttsclient.Transport, error) {
		return dialTransport(ctx, addr)
	}, connCallback, log)
	go c.dispatchEvents()
	return c
}

// dispatchEvents routes each inbound connection/session event to the
// SessionCallback registered by CreateSession for its sessionId, or
// drops it if the session is unknown (already destroyed locally).
func (c *Client) dispatchEvents() {
	for ev := range c.sup.Events() {
		sid, _ := ev.Data["sessionId"].(float64)
		c.mu.Lock()
		info := c.sessionMap[uint32(sid)]
		c.mu.Unlock()
		if info == nil || info.callback == nil {
			continue
		}
		deliver(info.callback, ev)
	}
}

func deliver(cb SessionCallback, ev ttsclient.EventMessage) {
	id, _ := ev.Data["id"].(float64)
	text, _ := ev.Data["text"].(string)
	switch ev.Name {
	case "started":
		cb.Started(uint64(id), text)
	case "spoke":
		cb.Spoke(uint64(id), text)
	case "resource_acquired":
		cb.ResourceAcquired()
	case "resource_released":
		cb.ResourceReleased()
	case "willSpeak":
		cb.WillSpeak(uint64(id), text)
	case "paused":
		cb.Paused(uint64(id))
	case "resumed":
		cb.Resumed(uint64(id))
	case "cancelled":
		ids, _ := ev.Data["ids"].(string)
		cb.Cancelled(ids)
	case "interrupted":
		cb.Interrupted(uint64(id))
	case "networkerror":
		cb.NetworkError(uint64(id))
	case "playbackerror":
		cb.PlaybackError(uint64(id))
	}
}

// codeResult is the wire shape of a bare error-code reply: every RPC method
// that has nothing else to report echoes the ttserrors.Code it produced
// rather than relying on transport success alone, so callers see
// ResourceBusy/SessionNotActive/etc. instead of silently treating them as
// success.
type codeResult struct {
	Result int `json:"result"`
}

func callForCode(ctx context.Context, sup *ttsclient.Supervisor, method string, params interface{}) error {
	var res codeResult
	if err := sup.Call(ctx, method, params, &res); err != nil {
		return err
	}
	return ttserrors.New(ttserrors.Code(res.Result))
}

func (c *Client) EnableTTS(enable bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return callForCode(ctx, c.sup, "enableTTS", enable)
}

func (c *Client) IsTTSEnabled(forceFetch bool) (bool, error) {
	var res struct {
		Enabled bool `json:"enabled"`
		Result  int  `json:"result"`
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.sup.Call(ctx, "isTTSEnabled", nil, &res)
	if err != nil {
		return false, err
	}
	return res.Enabled, ttserrors.New(ttserrors.Code(res.Result))
}

func (c *Client) SetConfiguration(cfg *ttsconfig.Configuration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return callForCode(ctx, c.sup, "setConfiguration", cfg)
}

func (c *Client) AcquireResource(appID uint32) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return callForCode(ctx, c.sup, "reservePlayerResource", appID)
}

func (c *Client) ClaimResource(appID uint32) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return callForCode(ctx, c.sup, "claimPlayerResource", appID)
}

func (c *Client) ReleaseResource(appID uint32) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return callForCode(ctx, c.sup, "releasePlayerResource", appID)
}

type createSessionParams struct {
	AppID   uint32 `json:"appId"`
	AppName string `json:"appName"`
}

type createSessionResult struct {
	SessionID uint32 `json:"sessionId"`
	Result    int    `json:"result"`
}

// CreateSession registers a new session for appID and returns its
// server-assigned sessionId. A duplicate appId surfaces
// CreateSessionDuplicate.
func (c *Client) CreateSession(appID uint32, appName string, cb SessionCallback) (uint32, error) {
	var res createSessionResult
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.sup.Call(ctx, "createSession", createSessionParams{appID, appName}, &res); err != nil {
		return 0, err
	}
	if code := ttserrors.Code(res.Result); code != ttserrors.OK {
		return 0, ttserrors.New(code)
	}

	c.mu.Lock()
	c.sessionMap[res.SessionID] = &sessionInfo{appID: appID, sessionID: res.SessionID, appName: appName, callback: cb}
	c.mu.Unlock()
	return res.SessionID, nil
}

func (c *Client) DestroySession(sessionID uint32) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := callForCode(ctx, c.sup, "destroySession", sessionID); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.sessionMap, sessionID)
	c.mu.Unlock()
	return nil
}

type speakParams struct {
	SessionID uint32 `json:"sessionId"`
	ID        uint64 `json:"id"`
	Text      string `json:"text"`
	Secure    bool   `json:"secure"`
}

func (c *Client) Speak(sessionID uint32, id uint64, text string, secure bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return callForCode(ctx, c.sup, "speak", speakParams{sessionID, id, text, secure})
}

func (c *Client) Pause(sessionID uint32, speechID uint64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return callForCode(ctx, c.sup, "pause", [2]uint64{uint64(sessionID), speechID})
}

func (c *Client) Resume(sessionID uint32, speechID uint64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return callForCode(ctx, c.sup, "resume", [2]uint64{uint64(sessionID), speechID})
}

func (c *Client) Abort(sessionID uint32, clearPending bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return callForCode(ctx, c.sup, "abort", [2]interface{}{sessionID, clearPending})
}

func (c *Client) IsSpeaking(sessionID uint32) (bool, error) {
	var res struct {
		Speaking bool `json:"speaking"`
		Result   int  `json:"result"`
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.sup.Call(ctx, "isSpeaking", sessionID, &res); err != nil {
		return false, err
	}
	return res.Speaking, ttserrors.New(ttserrors.Code(res.Result))
}

// ListVoices lists the voices registered for language ("*" for every
// configured voice).
func (c *Client) ListVoices(language string) ([]string, error) {
	var res struct {
		Voices []string `json:"voices"`
		Result int      `json:"result"`
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.sup.Call(ctx, "listVoices", map[string]interface{}{"language": language}, &res); err != nil {
		return nil, err
	}
	return res.Voices, ttserrors.New(ttserrors.Code(res.Result))
}

// GetConfiguration returns the Manager's current default Configuration
// as the flat field map used by the RPC wire format.
func (c *Client) GetConfiguration() (map[string]string, error) {
	var raw map[string]json.RawMessage
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.sup.Call(ctx, "getConfiguration", nil, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	code := ttserrors.OK
	for k, v := range raw {
		if k == "result" {
			_ = json.Unmarshal(v, &code)
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
		}
	}
	return out, ttserrors.New(code)
}

func (c *Client) Close() error {
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

// wsTransport is the coder/websocket-backed ttsclient.Transport used by
// the object-RPC flavor.
type wsTransport struct {
	conn   *websocket.Conn
	events chan ttsclient.EventMessage

	mu      sync.Mutex
	pending map[uint64]chan rpcEnvelope
}

func dialTransport(ctx context.Context, addr string) (ttsclient.Transport, error) {
	conn, _, err := websocket.Dial(ctx, addr, nil)
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
	ctx := context.Background()
	for {
		var env rpcEnvelope
		if err := wsjson.Read(ctx, t.conn, &env); err != nil {
			return
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

	if err := wsjson.Write(ctx, t.conn, rpcEnvelope{ID: id, Method: method, Params: raw}); err != nil {
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
	return t.conn.Close(websocket.StatusNormalClosure, "client closed")
}
