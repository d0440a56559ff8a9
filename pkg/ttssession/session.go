// Package ttssession implements the Session (C3): a per-application
// façade over the Speaker Engine that emits lifecycle events through an
// Event Source.
//
// Grounded on original_source/ttsengine/TTSSession.cpp for the
// activeness/configuration-deferral mechanics, refined per spec §4.3:
// deactivation clears only this session's own queued/in-flight speeches
// (clearAllSpeechesFrom, client-scoped) rather than the simplified
// snapshot's speaker-global reset(), since the fuller specification is
// more precise about session-scoped cancellation than the single-file
// excerpt this was distilled from (see DESIGN.md).
package ttssession

import (
	"strconv"
	"sync"

	"github.com/rdkcentral/tts-coordinator/pkg/ttsconfig"
	"github.com/rdkcentral/tts-coordinator/pkg/ttserrors"
	"github.com/rdkcentral/tts-coordinator/pkg/ttsevent"
	"github.com/rdkcentral/tts-coordinator/pkg/ttsspeaker"
)

// ExtendedEvent is a bit in the requested extended-event mask, lowest to
// highest as listed in spec §6.2.
type ExtendedEvent uint8

const (
	EventPaused ExtendedEvent = 1 << iota
	EventResumed
	EventCancelled
	EventInterrupted
	EventNetworkError
	EventPlaybackError
	EventWillSpeak
)

// Session is a named handle owned by one application.
type Session struct {
	mu sync.Mutex

	appID     uint32
	appName   string
	sessionID uint32

	speaker *ttsspeaker.Speaker // non-nil iff active

	config    *ttsconfig.Configuration
	pending   *ttsconfig.Configuration
	hasUpdate bool

	mask ExtendedEvent

	events *ttsevent.Source
}

// New constructs an inactive Session. The Manager activates it via
// SetActive once arbitration grants the resource.
func New(appID uint32, appName string, sessionID uint32, config *ttsconfig.Configuration) *Session {
	s := &Session{
		appID:     appID,
		appName:   appName,
		sessionID: sessionID,
		config:    config.Clone(),
		events:    ttsevent.New(64),
	}
	s.events.SendEvent(ttsevent.Event{Name: "session-created", Data: map[string]interface{}{"session": sessionID}})
	return s
}

func (s *Session) AppID() uint32     { return s.appID }
func (s *Session) AppName() string   { return s.appName }
func (s *Session) SessionID() uint32 { return s.sessionID }
func (s *Session) Events() *ttsevent.Source { return s.events }

// Close shuts down the session's private Event Source, stopping its
// dispatch goroutine and dropping every registered listener. Callers
// must not use the session afterward. Idempotent, since Source.Close is.
func (s *Session) Close() {
	s.events.Close()
}

// On registers a listener for a session-scoped event name.
func (s *Session) On(name string, l ttsevent.Listener) int { return s.events.On(name, l) }

// IsActive reports whether the session currently holds a Speaker pointer.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaker != nil
}

// SetActive attaches speaker and, unless notify is false (used for bulk
// enable/disable transitions per §4.4), emits resource_acquired.
func (s *Session) SetActive(speaker *ttsspeaker.Speaker, notify bool) {
	s.mu.Lock()
	if s.speaker != nil {
		s.mu.Unlock()
		return
	}
	s.speaker = speaker
	s.mu.Unlock()
	if notify {
		s.events.SendEvent(ttsevent.Event{Name: "resource_acquired", Data: map[string]interface{}{"session": s.sessionID}})
	}
}

// SetInactive implicitly clears all pending/in-flight speeches owned by
// this session, drops the speaker pointer, and, unless notify is false,
// emits resource_released.
func (s *Session) SetInactive(notify bool) {
	s.mu.Lock()
	speaker := s.speaker
	s.speaker = nil
	s.mu.Unlock()
	if speaker == nil {
		return
	}
	cancelled := speaker.ClearAllSpeechesFrom((*speakerClient)(s))
	s.emitCancelled(cancelled)
	if notify {
		s.events.SendEvent(ttsevent.Event{Name: "resource_released", Data: map[string]interface{}{"session": s.sessionID}})
	}
}

// Speak delegates to the Speaker, requiring an active session with a
// valid Configuration.
func (s *Session) Speak(id uint64, text string, secure bool) error {
	s.mu.Lock()
	speaker := s.speaker
	valid := s.config.IsValid()
	s.mu.Unlock()
	if speaker == nil {
		return ttserrors.New(ttserrors.SessionNotActive)
	}
	if !valid {
		return ttserrors.New(ttserrors.InvalidConfiguration)
	}
	speaker.Speak((*speakerClient)(s), id, text, secure)
	return nil
}

// Pause/Resume act on the in-flight item only if it matches speechID.
func (s *Session) Pause(speechID uint64) error {
	s.mu.Lock()
	speaker := s.speaker
	s.mu.Unlock()
	if speaker == nil {
		return ttserrors.New(ttserrors.SessionNotActive)
	}
	speaker.Pause(speechID)
	return nil
}

func (s *Session) Resume(speechID uint64) error {
	s.mu.Lock()
	speaker := s.speaker
	s.mu.Unlock()
	if speaker == nil {
		return ttserrors.New(ttserrors.SessionNotActive)
	}
	speaker.Resume(speechID)
	return nil
}

// Shut returns SessionNotActive on an inactive session and nil
// otherwise. With clearPending it drops every queued speech of this
// session and interrupts its in-flight one; with clearPending false it
// does nothing, and an in-flight speech keeps playing.
func (s *Session) Shut(clearPending bool) error {
	s.mu.Lock()
	speaker := s.speaker
	s.mu.Unlock()
	if speaker == nil {
		return ttserrors.New(ttserrors.SessionNotActive)
	}
	if clearPending {
		cancelled := speaker.ClearAllSpeechesFrom((*speakerClient)(s))
		s.emitCancelled(cancelled)
	}
	return nil
}

func (s *Session) emitCancelled(ids []uint64) {
	if len(ids) == 0 {
		return
	}
	if s.mask&EventCancelled == 0 {
		return
	}
	csv := make([]string, len(ids))
	for i, id := range ids {
		csv[i] = strconv.FormatUint(id, 10)
	}
	s.events.SendEvent(ttsevent.Event{Name: "cancelled", Data: map[string]interface{}{"ids": csv}})
}

func (s *Session) IsSpeaking() bool {
	s.mu.Lock()
	speaker := s.speaker
	s.mu.Unlock()
	return speaker != nil && speaker.IsSpeaking((*speakerClient)(s))
}

func (s *Session) GetSpeechState(id uint64) ttsspeaker.SpeechState {
	s.mu.Lock()
	speaker := s.speaker
	s.mu.Unlock()
	if speaker == nil {
		return ttsspeaker.NotFound
	}
	return speaker.GetSpeechState((*speakerClient)(s), id)
}

func (s *Session) SetPreemptiveSpeak(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.SetPreemptive(v)
}

func (s *Session) RequestExtendedEvents(mask ExtendedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mask = mask
}

func (s *Session) GetConfiguration() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Fields()
}

// SetConfiguration applies cfg immediately, unless this session's own
// speech is currently in flight, in which case cfg is deferred and
// applied in the Spoke callback — spec §4.3's mid-utterance guarantee.
func (s *Session) SetConfiguration(cfg *ttsconfig.Configuration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	speaking := s.speaker != nil && s.speaker.IsSpeaking((*speakerClient)(s))
	if speaking {
		s.pending = cfg.Clone()
		s.hasUpdate = true
		return
	}
	s.config = cfg.Clone()
}

// speakerClient adapts *Session to ttsspeaker.Client without exposing the
// Speaker-facing methods on Session's own public API.
type speakerClient Session

func (c *speakerClient) session() *Session { return (*Session)(c) }

func (c *speakerClient) Configuration() *ttsconfig.Configuration {
	s := c.session()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

func (c *speakerClient) WillSpeak(id uint64, text string) {
	s := c.session()
	s.events.SendEvent(ttsevent.Event{Name: "started", Data: map[string]interface{}{"id": id, "text": text}})
	s.mu.Lock()
	requested := s.mask&EventWillSpeak != 0
	s.mu.Unlock()
	if requested {
		s.events.SendEvent(ttsevent.Event{Name: "willSpeak", Data: map[string]interface{}{"id": id, "text": text}})
	}
}

// Spoke applies any pending deferred Configuration before re-emitting the
// baseline spoke event, matching TTSSession::spoke's exact ordering.
func (c *speakerClient) Spoke(id uint64, text string) {
	s := c.session()
	s.mu.Lock()
	if s.hasUpdate {
		s.config = s.pending
		s.pending = nil
		s.hasUpdate = false
	}
	s.mu.Unlock()
	s.events.SendEvent(ttsevent.Event{Name: "spoke", Data: map[string]interface{}{"id": id, "text": text}})
}

func (c *speakerClient) SpeakerPaused(id uint64) {
	s := c.session()
	s.mu.Lock()
	requested := s.mask&EventPaused != 0
	s.mu.Unlock()
	if requested {
		s.events.SendEvent(ttsevent.Event{Name: "paused", Data: map[string]interface{}{"id": id}})
	}
}

func (c *speakerClient) SpeakerResumed(id uint64) {
	s := c.session()
	s.mu.Lock()
	requested := s.mask&EventResumed != 0
	s.mu.Unlock()
	if requested {
		s.events.SendEvent(ttsevent.Event{Name: "resumed", Data: map[string]interface{}{"id": id}})
	}
}

func (c *speakerClient) Cancelled(ids []uint64) {
	c.session().emitCancelled(ids)
}

func (c *speakerClient) Interrupted(id uint64) {
	s := c.session()
	s.mu.Lock()
	requested := s.mask&EventInterrupted != 0
	s.mu.Unlock()
	if requested {
		s.events.SendEvent(ttsevent.Event{Name: "interrupted", Data: map[string]interface{}{"id": id}})
	}
}

func (c *speakerClient) NetworkError(id uint64) {
	s := c.session()
	s.mu.Lock()
	requested := s.mask&EventNetworkError != 0
	s.mu.Unlock()
	if requested {
		s.events.SendEvent(ttsevent.Event{Name: "networkerror", Data: map[string]interface{}{"id": id}})
	}
}

func (c *speakerClient) PlaybackError(id uint64) {
	s := c.session()
	s.mu.Lock()
	requested := s.mask&EventPlaybackError != 0
	s.mu.Unlock()
	if requested {
		s.events.SendEvent(ttsevent.Event{Name: "playbackerror", Data: map[string]interface{}{"id": id}})
	}
}
