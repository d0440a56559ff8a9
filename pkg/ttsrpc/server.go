// server.go wires the dispatcher to the wire transport: one
// *websocket.Conn per connected client, each request decoded into an
// envelope, dispatched onto the Dispatcher's owning goroutine against
// the Manager, and answered with a matching envelope. Session-scope
// events are subscribed per created session and forwarded back over
// the same connection, tagged with their sessionId so a multi-session
// client (objectrpc) can route them; connection-scope events
// (tts_state_changed, voice_changed) are broadcast to every connection
// untagged, which a single-session client (jsonrpc) reads directly off
// its raw event stream.
//
// Grounded on the coder/websocket+wsjson dial/serve idiom used
// throughout this module's client and server wire code, and on
// original_source/ttsengine/TTSManager.cpp's
// createSession/destroySession/speak/pause/resume/abort argument
// shapes for the dispatch table below.
package ttsrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/rdkcentral/tts-coordinator/pkg/ttsconfig"
	"github.com/rdkcentral/tts-coordinator/pkg/ttserrors"
	"github.com/rdkcentral/tts-coordinator/pkg/ttsevent"
	"github.com/rdkcentral/tts-coordinator/pkg/ttslog"
	"github.com/rdkcentral/tts-coordinator/pkg/ttsmanager"
)

type envelope struct {
	ID     uint64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Event  *eventPayload   `json:"event,omitempty"`
}

type eventPayload struct {
	Name string                 `json:"name"`
	Data map[string]interface{} `json:"data"`
}

// Server accepts websocket connections and serves the coordinator's RPC
// surface over them.
type Server struct {
	mgr  *ttsmanager.Manager
	disp *Dispatcher
	log  ttslog.Logger
}

// NewServer builds a Server. Every inbound request is run through disp,
// so request handlers execute one at a time on its goroutine; Session
// callbacks and Event Source listeners run on their own goroutines.
func NewServer(mgr *ttsmanager.Manager, disp *Dispatcher, log ttslog.Logger) *Server {
	if log == nil {
		log = ttslog.NoOp()
	}
	return &Server{mgr: mgr, disp: disp, log: log.With("component", "ttsrpc.server")}
}

func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	connID := uuid.NewString()
	c := &connection{
		conn:     conn,
		mgr:      srv.mgr,
		disp:     srv.disp,
		log:      srv.log.With("connId", connID),
		sessions: make(map[uint32][]int),
	}
	c.run(r.Context())
}

// connection holds the per-client bookkeeping needed to clean up
// session subscriptions and destroy sessions this connection created
// once it disappears.
type connection struct {
	conn *websocket.Conn
	mgr  *ttsmanager.Manager
	disp *Dispatcher
	log  ttslog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	sessions map[uint32][]int // sessionID -> registered Event Source listener tokens
	connTok  int
}

var sessionEventNames = []string{
	"started", "spoke", "willSpeak", "paused", "resumed",
	"cancelled", "interrupted", "networkerror", "playbackerror",
}

func (c *connection) run(ctx context.Context) {
	defer c.cleanup()

	c.connTok = c.mgr.Events().On("tts_state_changed", c.broadcastListener("tts_state_changed"))
	voiceTok := c.mgr.Events().On("voice_changed", c.broadcastListener("voice_changed"))
	defer c.mgr.Events().Del("voice_changed", voiceTok)
	defer c.mgr.Events().Del("tts_state_changed", c.connTok)

	for {
		var env envelope
		if err := wsjson.Read(ctx, c.conn, &env); err != nil {
			return
		}
		go c.handle(ctx, env)
	}
}

func (c *connection) broadcastListener(name string) ttsevent.Listener {
	return func(ev ttsevent.Event) bool {
		c.send(envelope{Event: &eventPayload{Name: name, Data: ev.Data}})
		return false
	}
}

func (c *connection) handle(ctx context.Context, env envelope) {
	result, err := c.disp.Call(ctx, func() (interface{}, error) {
		return dispatch(c, env.Method, env.Params)
	})
	if err != nil {
		result = codeResultFor(ttserrors.Fail)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		raw = []byte(`{"result":1}`)
	}
	c.send(envelope{ID: env.ID, Result: raw})
}

func (c *connection) send(env envelope) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = wsjson.Write(context.Background(), c.conn, env)
}

// subscribeSession wires every session-scope event name to this
// connection's outbound stream, tagging each delivery with sessionId
// so a multi-session client can route it back to the right
// SessionCallback.
func (c *connection) subscribeSession(sessionID uint32) {
	session, ok := c.mgr.Session(sessionID)
	if !ok {
		return
	}
	var tokens []int
	for _, name := range sessionEventNames {
		evName := name
		tok := session.On(evName, func(ev ttsevent.Event) bool {
			data := map[string]interface{}{"sessionId": sessionID}
			for k, v := range ev.Data {
				data[k] = v
			}
			c.send(envelope{Event: &eventPayload{Name: evName, Data: data}})
			return false
		})
		tokens = append(tokens, tok)
	}
	c.mu.Lock()
	c.sessions[sessionID] = tokens
	c.mu.Unlock()
}

func (c *connection) forgetSession(sessionID uint32) {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
}

// cleanup destroys every session this connection created, matching the
// original's MonitorClientsSourceDestroyedCB behavior for a transport
// that simply disappears without calling destroySession explicitly.
func (c *connection) cleanup() {
	c.mu.Lock()
	ids := make([]uint32, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		_ = c.mgr.DestroySession(id)
	}
	c.conn.Close(websocket.StatusNormalClosure, "server closing connection")
}

func codeResultFor(code ttserrors.Code) map[string]interface{} {
	return map[string]interface{}{"result": int(code)}
}

func errCode(err error) ttserrors.Code { return ttserrors.CodeOf(err) }

// dispatch routes one decoded request to the Manager/Session operation
// it names and builds the wire reply. It runs on the Dispatcher's
// owning goroutine.
func dispatch(c *connection, method string, params json.RawMessage) (interface{}, error) {
	switch method {
	case "enableTTS":
		var enable bool
		_ = json.Unmarshal(params, &enable)
		c.mgr.EnableTTS(enable)
		return codeResultFor(ttserrors.OK), nil

	case "isTTSEnabled":
		return map[string]interface{}{"enabled": c.mgr.IsTTSEnabled(), "result": int(ttserrors.OK)}, nil

	case "setConfiguration":
		var w ttsconfig.Wire
		_ = json.Unmarshal(params, &w)
		c.mgr.SetConfiguration(ttsconfig.FromWire(w))
		return codeResultFor(ttserrors.OK), nil

	case "getConfiguration":
		fields := c.mgr.GetConfiguration()
		out := map[string]interface{}{"result": int(ttserrors.OK)}
		for k, v := range fields {
			out[k] = v
		}
		return out, nil

	case "listVoices":
		var p struct {
			Language string `json:"language"`
		}
		_ = json.Unmarshal(params, &p)
		return map[string]interface{}{"voices": c.mgr.ListVoices(p.Language), "result": int(ttserrors.OK)}, nil

	case "getResourceAllocationPolicy":
		return map[string]interface{}{"policy": c.mgr.GetResourceAllocationPolicy().String(), "result": int(ttserrors.OK)}, nil

	case "reservePlayerResource":
		appID := decodeAppID(params)
		err := c.mgr.ReservePlayerResource(appID)
		return codeResultFor(errCode(err)), nil

	case "releasePlayerResource":
		appID := decodeAppID(params)
		err := c.mgr.ReleasePlayerResource(appID)
		return codeResultFor(errCode(err)), nil

	case "claimPlayerResource":
		appID := decodeAppID(params)
		err := c.mgr.ClaimPlayerResource(appID)
		return codeResultFor(errCode(err)), nil

	case "isSessionActiveForApp":
		appID := decodeAppID(params)
		return map[string]interface{}{"active": c.mgr.IsSessionActiveForApp(appID), "result": int(ttserrors.OK)}, nil

	case "createSession":
		var p struct {
			AppID   uint32 `json:"appId"`
			AppName string `json:"appName"`
		}
		_ = json.Unmarshal(params, &p)
		session, err := c.mgr.CreateSession(p.AppID, p.AppName)
		if err != nil {
			return codeResultFor(errCode(err)), nil
		}
		c.subscribeSession(session.SessionID())
		return map[string]interface{}{"sessionId": session.SessionID(), "result": int(ttserrors.OK)}, nil

	case "destroySession":
		sessionID := decodeSessionID(params)
		err := c.mgr.DestroySession(sessionID)
		c.forgetSession(sessionID)
		return codeResultFor(errCode(err)), nil

	case "speak":
		var p struct {
			SessionID uint32 `json:"sessionId"`
			ID        uint64 `json:"id"`
			Text      string `json:"text"`
			Secure    bool   `json:"secure"`
		}
		_ = json.Unmarshal(params, &p)
		session, ok := c.mgr.Session(p.SessionID)
		if !ok {
			return codeResultFor(ttserrors.NoSessionFound), nil
		}
		err := session.Speak(p.ID, p.Text, p.Secure)
		return codeResultFor(errCode(err)), nil

	case "pause":
		var p [2]uint64
		_ = json.Unmarshal(params, &p)
		session, ok := c.mgr.Session(uint32(p[0]))
		if !ok {
			return codeResultFor(ttserrors.NoSessionFound), nil
		}
		err := session.Pause(p[1])
		return codeResultFor(errCode(err)), nil

	case "resume":
		var p [2]uint64
		_ = json.Unmarshal(params, &p)
		session, ok := c.mgr.Session(uint32(p[0]))
		if !ok {
			return codeResultFor(ttserrors.NoSessionFound), nil
		}
		err := session.Resume(p[1])
		return codeResultFor(errCode(err)), nil

	case "abort":
		var p [2]json.RawMessage
		_ = json.Unmarshal(params, &p)
		var sessionID uint32
		var clearPending bool
		_ = json.Unmarshal(p[0], &sessionID)
		_ = json.Unmarshal(p[1], &clearPending)
		session, ok := c.mgr.Session(sessionID)
		if !ok {
			return codeResultFor(ttserrors.NoSessionFound), nil
		}
		err := session.Shut(clearPending)
		return codeResultFor(errCode(err)), nil

	case "isSpeaking":
		sessionID := decodeSessionID(params)
		session, ok := c.mgr.Session(sessionID)
		if !ok {
			return map[string]interface{}{"speaking": false, "result": int(ttserrors.NoSessionFound)}, nil
		}
		return map[string]interface{}{"speaking": session.IsSpeaking(), "result": int(ttserrors.OK)}, nil

	default:
		return codeResultFor(ttserrors.Fail), nil
	}
}

func decodeAppID(params json.RawMessage) uint32 {
	var v uint32
	_ = json.Unmarshal(params, &v)
	return v
}

func decodeSessionID(params json.RawMessage) uint32 {
	var v uint32
	_ = json.Unmarshal(params, &v)
	return v
}
