package ttsspeaker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rdkcentral/tts-coordinator/pkg/ttsaudio"
	"github.com/rdkcentral/tts-coordinator/pkg/ttsconfig"
	"github.com/rdkcentral/tts-coordinator/pkg/ttslog"
)

// fakePipeline never delivers a bus message on its own; tests push
// messages in to drive the worker loop's waitForAudioToFinish select.
type fakePipeline struct {
	bus chan ttsaudio.Message
}

func newFakePipelineInstance() *fakePipeline {
	return &fakePipeline{bus: make(chan ttsaudio.Message, 8)}
}

func (p *fakePipeline) SetState(ctx context.Context, s ttsaudio.State) error { return nil }
func (p *fakePipeline) SetSource(url string)                                 {}
func (p *fakePipeline) SetVolume(v int)                                      {}
func (p *fakePipeline) Bus() <-chan ttsaudio.Message                         { return p.bus }
func (p *fakePipeline) Close() error                                         { close(p.bus); return nil }

// capturingFactory hands every Pipeline it constructs back over a channel
// so a test can drive (or recreate, after an error) the live pipeline.
type capturingFactory struct {
	created chan *fakePipeline
}

func newCapturingFactory() *capturingFactory {
	return &capturingFactory{created: make(chan *fakePipeline, 4)}
}

func (f *capturingFactory) factory() (ttsaudio.Pipeline, error) {
	p := newFakePipelineInstance()
	f.created <- p
	return p, nil
}

func (f *capturingFactory) next(t *testing.T) *fakePipeline {
	t.Helper()
	select {
	case p := <-f.created:
		return p
	case <-time.After(time.Second):
		t.Fatalf("pipeline was never constructed")
		return nil
	}
}

// fakeClient records every callback invocation and exposes buffered
// channels for the ones tests need to synchronize on.
type fakeClient struct {
	cfg *ttsconfig.Configuration

	mu          sync.Mutex
	cancelled   [][]uint64
	networkErrs []uint64

	spokeCh         chan uint64
	willSpeakCh     chan uint64
	pausedCh        chan uint64
	resumedCh       chan uint64
	interruptedCh   chan uint64
	playbackErrorCh chan uint64
}

func newFakeClient(cfg *ttsconfig.Configuration) *fakeClient {
	return &fakeClient{
		cfg:             cfg,
		spokeCh:         make(chan uint64, 8),
		willSpeakCh:     make(chan uint64, 8),
		pausedCh:        make(chan uint64, 8),
		resumedCh:       make(chan uint64, 8),
		interruptedCh:   make(chan uint64, 8),
		playbackErrorCh: make(chan uint64, 8),
	}
}

func (c *fakeClient) Configuration() *ttsconfig.Configuration { return c.cfg }
func (c *fakeClient) WillSpeak(id uint64, text string)        { c.willSpeakCh <- id }
func (c *fakeClient) Spoke(id uint64, text string)             { c.spokeCh <- id }
func (c *fakeClient) SpeakerPaused(id uint64)                  { c.pausedCh <- id }
func (c *fakeClient) SpeakerResumed(id uint64)                 { c.resumedCh <- id }
func (c *fakeClient) Interrupted(id uint64)                    { c.interruptedCh <- id }
func (c *fakeClient) PlaybackError(id uint64)                  { c.playbackErrorCh <- id }

func (c *fakeClient) Cancelled(ids []uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, ids)
}

func (c *fakeClient) NetworkError(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.networkErrs = append(c.networkErrs, id)
}

func newConfig(endpoint string, preemptive bool) *ttsconfig.Configuration {
	cfg := ttsconfig.New()
	cfg.SetEndpoint(endpoint)
	cfg.SetPreemptive(preemptive)
	return cfg
}

func waitFor(t *testing.T, ch <-chan uint64, want uint64) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("got id %d, want %d", got, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for id %d", want)
	}
}

func waitUntilSpeaking(t *testing.T, s *Speaker, client Client) {
	t.Helper()
	deadline := time.After(time.Second)
	for !s.IsSpeaking(client) {
		select {
		case <-deadline:
			t.Fatalf("speaker never started speaking for this client")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestSpeakDeliversWillSpeakThenSpoke(t *testing.T) {
	factory := newCapturingFactory()
	s := New(ttsconfig.New(), factory.factory, ttslog.NoOp())
	s.Start()
	defer s.Close()
	pipeline := factory.next(t)

	client := newFakeClient(newConfig("http://tts.local/speak", false))
	s.Speak(client, 1, "hello", false)

	waitFor(t, client.willSpeakCh, 1)
	waitUntilSpeaking(t, s, client)

	pipeline.bus <- ttsaudio.Message{Kind: ttsaudio.EOS}
	waitFor(t, client.spokeCh, 1)

	if s.IsSpeaking(client) {
		t.Fatalf("speaker should no longer be speaking after Spoke")
	}
}

func TestSpeakProcessesQueueInFIFOOrder(t *testing.T) {
	factory := newCapturingFactory()
	s := New(ttsconfig.New(), factory.factory, ttslog.NoOp())
	s.Start()
	defer s.Close()
	pipeline := factory.next(t)

	client := newFakeClient(newConfig("http://tts.local/speak", false))
	s.Speak(client, 1, "first", false)
	s.Speak(client, 2, "second", false)

	waitFor(t, client.willSpeakCh, 1)
	pipeline.bus <- ttsaudio.Message{Kind: ttsaudio.EOS}
	waitFor(t, client.spokeCh, 1)

	waitFor(t, client.willSpeakCh, 2)
	pipeline.bus <- ttsaudio.Message{Kind: ttsaudio.EOS}
	waitFor(t, client.spokeCh, 2)
}

func TestPreemptiveSpeakInterruptsInFlightItem(t *testing.T) {
	factory := newCapturingFactory()
	s := New(ttsconfig.New(), factory.factory, ttslog.NoOp())
	s.Start()
	defer s.Close()
	_ = factory.next(t)

	client1 := newFakeClient(newConfig("http://tts.local/speak", false))
	client2 := newFakeClient(newConfig("http://tts.local/speak", true))

	s.Speak(client1, 1, "first", false)
	waitFor(t, client1.willSpeakCh, 1)
	waitUntilSpeaking(t, s, client1)

	s.Speak(client2, 2, "second", false)

	waitFor(t, client1.interruptedCh, 1)
	waitFor(t, client2.willSpeakCh, 2)
}

func TestPreemptiveSpeakCancelsDiscardedQueueEntries(t *testing.T) {
	factory := newCapturingFactory()
	s := New(ttsconfig.New(), factory.factory, ttslog.NoOp())
	s.Start()
	defer s.Close()
	_ = factory.next(t)

	busy := newFakeClient(newConfig("http://tts.local/speak", false))
	queued := newFakeClient(newConfig("http://tts.local/speak", false))
	preempt := newFakeClient(newConfig("http://tts.local/speak", true))

	s.Speak(busy, 1, "first", false)
	waitFor(t, busy.willSpeakCh, 1)
	waitUntilSpeaking(t, s, busy)

	s.Speak(queued, 2, "queued", false)
	// Give the worker a moment to confirm it does NOT dequeue item 2 yet
	// (it is still blocked in flight on item 1).
	select {
	case <-queued.willSpeakCh:
		t.Fatalf("queued item should not start until the in-flight item finishes")
	case <-time.After(50 * time.Millisecond):
	}

	s.Speak(preempt, 3, "preempt", false)

	waitFor(t, busy.interruptedCh, 1)

	queued.mu.Lock()
	cancelled := append([][]uint64(nil), queued.cancelled...)
	queued.mu.Unlock()
	if len(cancelled) != 1 || len(cancelled[0]) != 1 || cancelled[0][0] != 2 {
		t.Fatalf("queued client cancelled = %v, want [[2]]", cancelled)
	}

	waitFor(t, preempt.willSpeakCh, 3)
}

func TestClearAllSpeechesFromRemovesOnlyMatchingQueueEntries(t *testing.T) {
	factory := newCapturingFactory()
	s := New(ttsconfig.New(), factory.factory, ttslog.NoOp())
	s.Start()
	defer s.Close()
	_ = factory.next(t)

	busy := newFakeClient(newConfig("http://tts.local/speak", false))
	target := newFakeClient(newConfig("http://tts.local/speak", false))
	other := newFakeClient(newConfig("http://tts.local/speak", false))

	s.Speak(busy, 1, "first", false)
	waitFor(t, busy.willSpeakCh, 1)
	waitUntilSpeaking(t, s, busy)

	s.Speak(target, 2, "target", false)
	s.Speak(other, 3, "other", false)

	cancelled := s.ClearAllSpeechesFrom(target)
	if len(cancelled) != 1 || cancelled[0] != 2 {
		t.Fatalf("ClearAllSpeechesFrom(target) = %v, want [2]", cancelled)
	}

	if got := s.GetSpeechState(other, 3); got != Pending {
		t.Fatalf("GetSpeechState(other, 3) = %v, want Pending", got)
	}
	if got := s.GetSpeechState(target, 2); got != NotFound {
		t.Fatalf("GetSpeechState(target, 2) = %v, want NotFound", got)
	}
}

func TestPauseResumeOnlyAffectMatchingInFlightID(t *testing.T) {
	factory := newCapturingFactory()
	s := New(ttsconfig.New(), factory.factory, ttslog.NoOp())
	s.Start()
	defer s.Close()
	_ = factory.next(t)

	client := newFakeClient(newConfig("http://tts.local/speak", false))
	s.Speak(client, 5, "hello", false)
	waitFor(t, client.willSpeakCh, 5)
	waitUntilSpeaking(t, s, client)

	s.Pause(999) // no match, no-op
	select {
	case <-client.pausedCh:
		t.Fatalf("Pause with a non-matching id should be a no-op")
	case <-time.After(50 * time.Millisecond):
	}

	s.Pause(5)
	waitFor(t, client.pausedCh, 5)
	if got := s.GetSpeechState(client, 5); got != Paused {
		t.Fatalf("GetSpeechState after Pause = %v, want Paused", got)
	}

	s.Resume(5)
	waitFor(t, client.resumedCh, 5)
	if got := s.GetSpeechState(client, 5); got != InProgress {
		t.Fatalf("GetSpeechState after Resume = %v, want InProgress", got)
	}
}

func TestPipelineErrorDeliversPlaybackErrorAndRecreatesPipeline(t *testing.T) {
	factory := newCapturingFactory()
	s := New(ttsconfig.New(), factory.factory, ttslog.NoOp())
	s.Start()
	defer s.Close()
	pipeline := factory.next(t)

	client := newFakeClient(newConfig("http://tts.local/speak", false))
	s.Speak(client, 1, "hello", false)
	waitFor(t, client.willSpeakCh, 1)

	pipeline.bus <- ttsaudio.Message{Kind: ttsaudio.Error, Text: "device gone"}
	waitFor(t, client.playbackErrorCh, 1)

	// The worker recreates the pipeline after an error; the next Speak
	// must still be served by whatever pipeline the factory now hands out.
	next := factory.next(t)
	client2 := newFakeClient(newConfig("http://tts.local/speak", false))
	s.Speak(client2, 2, "world", false)
	waitFor(t, client2.willSpeakCh, 2)

	next.bus <- ttsaudio.Message{Kind: ttsaudio.EOS}
	waitFor(t, client2.spokeCh, 2)
}

func TestGetSpeechStateUnknownIsNotFound(t *testing.T) {
	factory := newCapturingFactory()
	s := New(ttsconfig.New(), factory.factory, ttslog.NoOp())
	s.Start()
	defer s.Close()
	_ = factory.next(t)

	client := newFakeClient(newConfig("http://tts.local/speak", false))
	if got := s.GetSpeechState(client, 42); got != NotFound {
		t.Fatalf("GetSpeechState on an idle speaker = %v, want NotFound", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	factory := newCapturingFactory()
	s := New(ttsconfig.New(), factory.factory, ttslog.NoOp())
	s.Start()
	_ = factory.next(t)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
