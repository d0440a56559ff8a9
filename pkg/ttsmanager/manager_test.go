package ttsmanager

import (
	"context"
	"testing"
	"time"

	"github.com/rdkcentral/tts-coordinator/pkg/ttsaudio"
	"github.com/rdkcentral/tts-coordinator/pkg/ttsconfig"
	"github.com/rdkcentral/tts-coordinator/pkg/ttserrors"
	"github.com/rdkcentral/tts-coordinator/pkg/ttsevent"
)

// fakePipeline acknowledges every state transition immediately and never
// delivers a bus message, which is all the Manager tests below need from
// the Speaker's black box.
type fakePipeline struct {
	bus chan ttsaudio.Message
}

func newFakePipeline() (ttsaudio.Pipeline, error) {
	return &fakePipeline{bus: make(chan ttsaudio.Message, 8)}, nil
}

func (p *fakePipeline) SetState(ctx context.Context, s ttsaudio.State) error { return nil }
func (p *fakePipeline) SetSource(url string)                                 {}
func (p *fakePipeline) SetVolume(v int)                                      {}
func (p *fakePipeline) Bus() <-chan ttsaudio.Message                         { return p.bus }
func (p *fakePipeline) Close() error                                         { close(p.bus); return nil }

func newTestManager(t *testing.T, policy Policy) *Manager {
	t.Helper()
	mgr := New(ttsconfig.New(), policy, newFakePipeline, nil)
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func TestCreateSessionDuplicateAppID(t *testing.T) {
	mgr := newTestManager(t, PolicyOpen)

	if _, err := mgr.CreateSession(1, "first"); err != nil {
		t.Fatalf("first CreateSession: %v", err)
	}
	_, err := mgr.CreateSession(1, "second")
	if ttserrors.CodeOf(err) != ttserrors.CreateSessionDuplicate {
		t.Fatalf("CreateSession duplicate = %v, want CreateSessionDuplicate", err)
	}
}

func TestDestroySessionUnknown(t *testing.T) {
	mgr := newTestManager(t, PolicyOpen)
	err := mgr.DestroySession(999)
	if ttserrors.CodeOf(err) != ttserrors.NoSessionFound {
		t.Fatalf("DestroySession unknown = %v, want NoSessionFound", err)
	}
}

func TestOpenPolicyActivatesEverySessionWhenEnabled(t *testing.T) {
	mgr := newTestManager(t, PolicyOpen)
	mgr.EnableTTS(true)

	s1, err := mgr.CreateSession(1, "one")
	if err != nil {
		t.Fatalf("CreateSession 1: %v", err)
	}
	s2, err := mgr.CreateSession(2, "two")
	if err != nil {
		t.Fatalf("CreateSession 2: %v", err)
	}

	if !mgr.IsSessionActiveForApp(1) || !mgr.IsSessionActiveForApp(2) {
		t.Fatalf("expected both apps active under OPEN policy")
	}
	_ = s1
	_ = s2
}

func TestReservationPolicyReserveThenClaim(t *testing.T) {
	mgr := newTestManager(t, PolicyReservation)
	mgr.EnableTTS(true)

	if _, err := mgr.CreateSession(1, "reserver"); err != nil {
		t.Fatalf("CreateSession 1: %v", err)
	}
	if _, err := mgr.CreateSession(2, "claimer"); err != nil {
		t.Fatalf("CreateSession 2: %v", err)
	}

	if err := mgr.ReservePlayerResource(1); err != nil {
		t.Fatalf("ReservePlayerResource(1): %v", err)
	}
	if !mgr.IsSessionActiveForApp(1) {
		t.Fatalf("app 1 should hold the resource after reserving")
	}

	// A second app reserving while app 1 holds the reservation is busy.
	if err := mgr.ReservePlayerResource(2); ttserrors.CodeOf(err) != ttserrors.ResourceBusy {
		t.Fatalf("ReservePlayerResource(2) while reserved = %v, want ResourceBusy", err)
	}

	// Claiming pre-empts the reservation without losing it.
	if err := mgr.ClaimPlayerResource(2); err != nil {
		t.Fatalf("ClaimPlayerResource(2): %v", err)
	}
	if !mgr.IsSessionActiveForApp(2) {
		t.Fatalf("app 2 should hold the resource after claiming")
	}

	// Releasing the claim restores the remembered reservation to app 1.
	if err := mgr.ReleasePlayerResource(2); err != nil {
		t.Fatalf("ReleasePlayerResource(2): %v", err)
	}
	if !mgr.IsSessionActiveForApp(1) {
		t.Fatalf("app 1 should reacquire the resource once the claim is released")
	}
}

func TestClaimPlayerResourceSelfClaimCollapses(t *testing.T) {
	mgr := newTestManager(t, PolicyReservation)
	mgr.EnableTTS(true)

	if _, err := mgr.CreateSession(1, "app"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := mgr.ClaimPlayerResource(1); err != nil {
		t.Fatalf("ClaimPlayerResource(1): %v", err)
	}
	// Claiming again with the same app is a no-op, not ResourceBusy.
	if err := mgr.ClaimPlayerResource(1); err != nil {
		t.Fatalf("repeat ClaimPlayerResource(1) = %v, want nil", err)
	}
}

func TestClaimPlayerResourceUnknownApp(t *testing.T) {
	mgr := newTestManager(t, PolicyReservation)
	err := mgr.ClaimPlayerResource(42)
	if ttserrors.CodeOf(err) != ttserrors.AppNotFound {
		t.Fatalf("ClaimPlayerResource unknown app = %v, want AppNotFound", err)
	}
}

func TestReservePlayerResourceEmptyAppID(t *testing.T) {
	mgr := newTestManager(t, PolicyReservation)
	err := mgr.ReservePlayerResource(0)
	if ttserrors.CodeOf(err) != ttserrors.EmptyAppIDInput {
		t.Fatalf("ReservePlayerResource(0) = %v, want EmptyAppIDInput", err)
	}
}

func TestReservePlayerResourceNoopUnderOpenPolicy(t *testing.T) {
	mgr := newTestManager(t, PolicyOpen)
	if err := mgr.ReservePlayerResource(1); err != nil {
		t.Fatalf("ReservePlayerResource under OPEN = %v, want nil", err)
	}
}

func TestEnableTTSDeactivatesOnDisable(t *testing.T) {
	mgr := newTestManager(t, PolicyOpen)
	mgr.EnableTTS(true)
	if _, err := mgr.CreateSession(1, "app"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !mgr.IsTTSEnabled() {
		t.Fatalf("expected TTS enabled")
	}
	mgr.EnableTTS(false)
	if mgr.IsTTSEnabled() {
		t.Fatalf("expected TTS disabled")
	}
}

func TestSessionLookup(t *testing.T) {
	mgr := newTestManager(t, PolicyOpen)
	session, err := mgr.CreateSession(1, "app")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	got, ok := mgr.Session(session.SessionID())
	if !ok || got != session {
		t.Fatalf("Session(%d) = %v, %v; want %v, true", session.SessionID(), got, ok, session)
	}
	if _, ok := mgr.Session(session.SessionID() + 1000); ok {
		t.Fatalf("Session lookup for unknown id should fail")
	}
}

func TestSetConfigurationEmitsVoiceChanged(t *testing.T) {
	mgr := newTestManager(t, PolicyOpen)

	received := make(chan string, 1)
	tok := mgr.Events().On("voice_changed", func(ev ttsevent.Event) bool {
		if v, ok := ev.Data["voice"].(string); ok {
			received <- v
		}
		return false
	})
	defer mgr.Events().Del("voice_changed", tok)

	update := ttsconfig.New()
	update.SetVoice("amy")
	mgr.SetConfiguration(update)

	select {
	case v := <-received:
		if v != "amy" {
			t.Fatalf("voice_changed data = %q, want %q", v, "amy")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for voice_changed")
	}

	fields := mgr.GetConfiguration()
	if fields["Voice"] != "amy" {
		t.Fatalf("GetConfiguration()[Voice] = %q, want %q", fields["Voice"], "amy")
	}
}

func TestDestroySessionClosesEventSource(t *testing.T) {
	mgr := newTestManager(t, PolicyOpen)

	session, err := mgr.CreateSession(1, "app")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	called := make(chan struct{}, 1)
	session.On("spoke", func(ev ttsevent.Event) bool {
		called <- struct{}{}
		return false
	})

	if err := mgr.DestroySession(session.SessionID()); err != nil {
		t.Fatalf("DestroySession: %v", err)
	}

	session.Events().SendEvent(ttsevent.Event{Name: "spoke"})
	select {
	case <-called:
		t.Fatalf("destroyed session's Event Source should not dispatch further events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManagerCloseClosesRemainingSessionEventSources(t *testing.T) {
	mgr := New(ttsconfig.New(), PolicyOpen, newFakePipeline, nil)

	session, err := mgr.CreateSession(1, "app")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	called := make(chan struct{}, 1)
	session.On("spoke", func(ev ttsevent.Event) bool {
		called <- struct{}{}
		return false
	})

	if err := mgr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	session.Events().SendEvent(ttsevent.Event{Name: "spoke"})
	select {
	case <-called:
		t.Fatalf("session Event Source left open after Manager.Close")
	case <-time.After(50 * time.Millisecond):
	}
}
