// Package ttsmanager implements the Manager (C4): the single
// host-wide resource arbiter that owns the Speaker, the default
// Configuration, and every live Session.
//
// Grounded on original_source/ttsengine/TTSManager.cpp: the
// reservedApp/claimedApp/activeSession arbitration state machine
// (reservePlayerResource/releasePlayerResource/claimPlayerResource),
// createSession/destroySession bookkeeping, and the connection-watcher
// that destroys a session when its owning connection disappears.
package ttsmanager

import (
	"context"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/rdkcentral/tts-coordinator/pkg/ttsaudio"
	"github.com/rdkcentral/tts-coordinator/pkg/ttsconfig"
	"github.com/rdkcentral/tts-coordinator/pkg/ttserrors"
	"github.com/rdkcentral/tts-coordinator/pkg/ttsevent"
	"github.com/rdkcentral/tts-coordinator/pkg/ttslog"
	"github.com/rdkcentral/tts-coordinator/pkg/ttssession"
	"github.com/rdkcentral/tts-coordinator/pkg/ttsspeaker"
)

// Policy is the resource allocation policy in effect. PRIORITY is
// accepted on input but always falls back to OPEN — the original
// never finished implementing priority-based allocation, and nothing
// in the distilled spec resurrects it.
type Policy int

const (
	PolicyInvalid Policy = iota
	PolicyReservation
	PolicyOpen
)

func (p Policy) String() string {
	switch p {
	case PolicyReservation:
		return "RESERVATION"
	case PolicyOpen:
		return "OPEN"
	default:
		return "INVALID"
	}
}

// Manager is the process-wide coordinator. Exactly one should exist per
// running ttsd.
type Manager struct {
	mu sync.Mutex

	appMap     map[uint32]*ttssession.Session
	sessionMap map[uint32]*ttssession.Session
	nextID     uint32

	defaultConfig *ttsconfig.Configuration
	policy        Policy

	reservedApp   uint32
	claimedApp    uint32
	activeSession *ttssession.Session

	speaker       *ttsspeaker.Speaker
	newPipeline   ttsaudio.Factory
	ttsEnabled    bool

	events *ttsevent.Source
	log    ttslog.Logger

	watcher *connWatcher
}

// New constructs a Manager. defaultConfig is owned by the Manager from
// this point on; callers should pass a freshly loaded Configuration.
func New(defaultConfig *ttsconfig.Configuration, policy Policy, newPipeline ttsaudio.Factory, log ttslog.Logger) *Manager {
	if policy == PolicyInvalid {
		policy = PolicyOpen
	}
	if policy != PolicyReservation {
		policy = PolicyOpen
	}
	if log == nil {
		log = ttslog.NoOp()
	}
	m := &Manager{
		appMap:        make(map[uint32]*ttssession.Session),
		sessionMap:    make(map[uint32]*ttssession.Session),
		defaultConfig: defaultConfig,
		policy:        policy,
		newPipeline:   newPipeline,
		events:        ttsevent.New(128),
		log:           log.With("component", "ttsmanager"),
	}
	m.speaker = ttsspeaker.New(defaultConfig, newPipeline, m.log)
	m.speaker.Start()
	return m
}

// Events exposes the Manager's global event source, fanning out
// tts_state_changed and voice_changed notifications.
func (m *Manager) Events() *ttsevent.Source { return m.events }

// ListenForConnections starts the Unix-domain connection watcher at
// socketPath: every connected client is expected to write its
// decimal session id once, after which the connection's lifetime
// tracks the session's — when the connection closes, that session is
// destroyed automatically. Grounded on TTSManager::MonitorClients.
func (m *Manager) ListenForConnections(ctx context.Context, socketPath string) error {
	os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	m.watcher = newConnWatcher(ln, m, m.log)
	m.watcher.run(ctx)
	return nil
}

// Close tears down the active session, the connection watcher, and the
// Speaker. Idempotent is not required: Close is called exactly once at
// shutdown by cmd/ttsd.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.activeSession != nil {
		m.activeSession.SetInactive(false)
		m.activeSession = nil
	}
	for _, s := range m.sessionMap {
		s.Close()
	}
	m.sessionMap = make(map[uint32]*ttssession.Session)
	m.appMap = make(map[uint32]*ttssession.Session)
	m.mu.Unlock()

	if m.watcher != nil {
		m.watcher.close()
	}
	m.events.Close()
	return m.speaker.Close()
}

// EnableTTS toggles the global TTS switch. Disabling deactivates every
// session (or just the reservation-policy active one); enabling
// reactivates them per the current policy.
func (m *Manager) EnableTTS(enable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ttsEnabled == enable {
		return
	}
	m.ttsEnabled = enable
	m.events.SendEvent(ttsevent.Event{Name: "tts_state_changed", Data: map[string]interface{}{"enabled": enable}})

	if enable {
		if m.policy == PolicyReservation {
			m.makeReservedOrClaimedSessionActiveLocked()
		} else {
			for _, s := range m.sessionMap {
				s.SetActive(m.speaker, false)
			}
		}
	} else {
		if m.policy == PolicyReservation {
			m.makeSessionInactiveLocked(m.activeSession)
		} else {
			for _, s := range m.sessionMap {
				s.SetInactive(false)
			}
		}
	}
}

func (m *Manager) IsTTSEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ttsEnabled
}

// ListVoices returns the configured voice for an empty language
// (meaning "the currently configured language"), every voice_for_*
// entry for "*", or the voices registered for a specific language.
func (m *Manager) ListVoices(language string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if language == "" {
		return m.defaultConfig.VoicesForLanguage("")
	}
	return m.defaultConfig.VoicesForLanguage(language)
}

// SetConfiguration merges cfg into the default Configuration and
// propagates the merged result to every live session. Emits
// voice_changed if the resolved voice actually changed.
func (m *Manager) SetConfiguration(cfg *ttsconfig.Configuration) {
	m.mu.Lock()
	before := m.defaultConfig.Voice()
	m.defaultConfig.UpdateWith(cfg)
	m.defaultConfig.ReconcileEndpoints()
	for _, s := range m.sessionMap {
		s.SetConfiguration(m.defaultConfig)
	}
	after := m.defaultConfig.Voice()
	m.mu.Unlock()

	if before != after {
		m.events.SendEvent(ttsevent.Event{Name: "voice_changed", Data: map[string]interface{}{"voice": after}})
	}
}

func (m *Manager) GetConfiguration() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.defaultConfig.Fields()
}

func (m *Manager) GetResourceAllocationPolicy() Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy
}

// Session looks up a live session by its server-assigned id, for the
// RPC dispatcher's method handlers to operate against.
func (m *Manager) Session(sessionID uint32) (*ttssession.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessionMap[sessionID]
	return s, ok
}

// IsSessionActiveForApp reports whether appID currently holds the
// resource (RESERVATION policy) or simply has a live session (OPEN).
func (m *Manager) IsSessionActiveForApp(appID uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policy == PolicyReservation {
		return m.activeSession != nil && m.activeSession.AppID() == appID
	}
	_, ok := m.appMap[appID]
	return ok
}

// CreateSession registers a new Session for appID/appName. A second
// session for an appID already present fails with
// CreateSessionDuplicate, mirroring the original's one-session-per-app
// invariant.
func (m *Manager) CreateSession(appID uint32, appName string) (*ttssession.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.appMap[appID]; exists {
		return nil, ttserrors.New(ttserrors.CreateSessionDuplicate)
	}

	sessionID := atomic.AddUint32(&m.nextID, 1)
	session := ttssession.New(appID, appName, sessionID, m.defaultConfig)

	m.appMap[appID] = session
	m.sessionMap[sessionID] = session

	if m.policy == PolicyReservation {
		m.makeReservedOrClaimedSessionActiveLocked()
	} else if m.ttsEnabled {
		session.SetActive(m.speaker, false)
	}

	return session, nil
}

// DestroySession releases any resource it held and removes it from
// both maps.
func (m *Manager) DestroySession(sessionID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessionMap[sessionID]
	if !ok {
		return ttserrors.New(ttserrors.NoSessionFound)
	}

	if m.policy == PolicyReservation {
		m.releasePlayerResourceLocked(session.AppID())
	} else {
		session.SetInactive(false)
	}

	delete(m.sessionMap, sessionID)
	delete(m.appMap, session.AppID())
	session.Close()

	if len(m.sessionMap) == 0 {
		m.log.Info("last session destroyed")
	}
	return nil
}

func (m *Manager) makeSessionActiveLocked(session *ttssession.Session) {
	if session == nil || m.activeSession == session {
		return
	}
	session.SetActive(m.speaker, true)
	m.activeSession = session
	m.log.Info("resource granted", "app", session.AppID())
}

func (m *Manager) makeSessionInactiveLocked(session *ttssession.Session) {
	if session == nil || m.activeSession != session {
		return
	}
	session.SetInactive(true)
	m.activeSession = nil
	m.log.Info("resource released", "app", session.AppID())
}

func (m *Manager) makeReservedOrClaimedSessionActiveLocked() {
	if !m.ttsEnabled {
		return
	}
	appID := m.claimedApp
	if appID == 0 {
		appID = m.reservedApp
	}
	if appID == 0 {
		return
	}
	session, ok := m.appMap[appID]
	if !ok {
		m.log.Warn("no live app for resource grant", "app", appID)
		return
	}
	m.makeSessionActiveLocked(session)
}

// ReservePlayerResource reserves the player for appID under the
// RESERVATION policy; a no-op success under OPEN.
func (m *Manager) ReservePlayerResource(appID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reservePlayerResourceLocked(appID)
}

func (m *Manager) reservePlayerResourceLocked(appID uint32) error {
	if m.policy != PolicyReservation {
		return nil
	}
	if appID == 0 {
		return ttserrors.New(ttserrors.EmptyAppIDInput)
	}
	if m.reservedApp != 0 {
		if m.reservedApp == appID {
			return nil
		}
		return ttserrors.New(ttserrors.ResourceBusy)
	}
	m.reservedApp = appID
	m.makeReservedOrClaimedSessionActiveLocked()
	return nil
}

// ReleasePlayerResource releases appID's claim and/or reservation,
// falling back to whichever of claimed/reserved app remains.
func (m *Manager) ReleasePlayerResource(appID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releasePlayerResourceLocked(appID)
}

func (m *Manager) releasePlayerResourceLocked(appID uint32) error {
	if m.policy != PolicyReservation {
		return nil
	}
	if appID == 0 {
		return ttserrors.New(ttserrors.EmptyAppIDInput)
	}

	if m.claimedApp != 0 && m.claimedApp == appID {
		m.claimedApp = 0
		if m.activeSession != nil && m.activeSession.AppID() == appID && appID != m.reservedApp {
			m.makeSessionInactiveLocked(m.activeSession)
			m.makeReservedOrClaimedSessionActiveLocked()
		}
		return nil
	}

	if m.reservedApp != 0 {
		if m.reservedApp != appID {
			return ttserrors.New(ttserrors.Fail)
		}
		if m.activeSession != nil && m.activeSession.AppID() == appID {
			m.makeSessionInactiveLocked(m.activeSession)
		}
		m.reservedApp = 0
	}
	return nil
}

// ClaimPlayerResource lets appID pre-empt whichever app currently holds
// the reservation, remembering the pre-empted reservation so it is
// restored once the claim is released. Recursive claims by the same
// app collapse to a no-op; a claim already held by a different app is
// rejected.
func (m *Manager) ClaimPlayerResource(appID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.policy != PolicyReservation {
		return nil
	}
	if appID == 0 {
		return ttserrors.New(ttserrors.EmptyAppIDInput)
	}
	if _, ok := m.appMap[appID]; !ok {
		return ttserrors.New(ttserrors.AppNotFound)
	}

	if m.claimedApp != 0 {
		if m.claimedApp == appID {
			return nil
		}
		return ttserrors.New(ttserrors.ResourceBusy)
	}

	m.claimedApp = appID

	if m.reservedApp != 0 {
		if m.reservedApp == m.claimedApp {
			m.claimedApp = 0
			return nil
		}
		preempted := m.reservedApp
		m.releasePlayerResourceLocked(m.reservedApp)
		m.reservedApp = preempted
	}

	m.makeReservedOrClaimedSessionActiveLocked()

	if !m.ttsEnabled {
		return nil
	}
	if m.activeSession != nil && m.activeSession.AppID() == m.claimedApp {
		return nil
	}
	return ttserrors.New(ttserrors.Fail)
}

// connWatcher accepts connections on the Manager's monitor socket and
// destroys the matching session when its connection closes. Grounded on
// TTSManager::MonitorClients / MonitorClientsSourceDestroyedCB.
type connWatcher struct {
	ln  net.Listener
	mgr *Manager
	log ttslog.Logger
	grp *errgroup.Group
}

func newConnWatcher(ln net.Listener, mgr *Manager, log ttslog.Logger) *connWatcher {
	return &connWatcher{ln: ln, mgr: mgr, log: log}
}

func (w *connWatcher) run(ctx context.Context) {
	grp, ctx := errgroup.WithContext(ctx)
	w.grp = grp
	grp.Go(func() error {
		for {
			conn, err := w.ln.Accept()
			if err != nil {
				return nil
			}
			grp.Go(func() error {
				w.watch(conn)
				return nil
			})
		}
	})
	go func() {
		<-ctx.Done()
		w.ln.Close()
	}()
}

func (w *connWatcher) watch(conn net.Conn) {
	defer conn.Close()
	var sessionID uint32
	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	if err == nil && n > 0 {
		sessionID = parseSessionID(buf[:n])
	}

	// Block until the connection is closed by the client; any further
	// bytes or the eventual EOF both signal "the client is gone."
	discard := make([]byte, 64)
	for {
		if _, err := conn.Read(discard); err != nil {
			break
		}
	}

	if sessionID != 0 {
		w.log.Warn("connection closed, destroying session", "session", sessionID)
		_ = w.mgr.DestroySession(sessionID)
	}
}

func (w *connWatcher) close() {
	w.ln.Close()
	if w.grp != nil {
		w.grp.Wait()
	}
}

func parseSessionID(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		if c < '0' || c > '9' {
			break
		}
		v = v*10 + uint32(c-'0')
	}
	return v
}
