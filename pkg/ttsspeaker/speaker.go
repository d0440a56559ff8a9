// Package ttsspeaker implements the Speaker Engine (C2): a single worker
// goroutine that dequeues speech items, drives a Pipeline (pkg/ttsaudio)
// through synchronous state transitions against a remote HTTP audio
// source, enforces pre-emption and end-of-stream timeouts, and delivers
// fine-grained lifecycle callbacks to the owning Client.
//
// Grounded on original_source/ttsengine/TTSSpeaker.{h,cpp}. The worker
// loop below follows the GStreamerThreadFunc step order exactly; the two
// mutexes (state, queue) match the original's m_stateMutex/m_queueMutex
// split described in spec §5.
package ttsspeaker

import (
	"context"
	"sync"
	"time"

	"github.com/rdkcentral/tts-coordinator/pkg/ttsaudio"
	"github.com/rdkcentral/tts-coordinator/pkg/ttsconfig"
	"github.com/rdkcentral/tts-coordinator/pkg/ttslog"
)

// eosTimeout bounds how long the worker waits for a synthesis request to
// reach end-of-stream before giving up on the utterance.
const eosTimeout = 60 * time.Second

// SpeechState is the answer to GetSpeechState.
type SpeechState int

const (
	NotFound SpeechState = iota
	Pending
	InProgress
	Paused
)

// Client is the callback surface the Speaker delivers lifecycle events to,
// mirroring the original TTSSpeakerClient interface.
type Client interface {
	Configuration() *ttsconfig.Configuration
	WillSpeak(id uint64, text string)
	Spoke(id uint64, text string)
	SpeakerPaused(id uint64)
	SpeakerResumed(id uint64)
	Cancelled(ids []uint64)
	Interrupted(id uint64)
	NetworkError(id uint64)
	PlaybackError(id uint64)
}

type speechItem struct {
	client Client
	id     uint64
	text   string
	secure bool
}

// Speaker is the single audio playback engine plus its worker.
type Speaker struct {
	log           ttslog.Logger
	defaultConfig *ttsconfig.Configuration
	newPipeline   ttsaudio.Factory

	stateMu        sync.Mutex
	isSpeaking     bool
	clientSpeaking Client
	currentID      uint64

	queueMu   sync.Mutex
	queueCond *sync.Cond
	queue     []speechItem
	flushed   bool
	flushCh   chan struct{}
	runThread bool
	paused    bool

	isEOS         bool
	pipelineError bool

	pipelineMu sync.Mutex
	pipeline   ttsaudio.Pipeline

	done      chan struct{}
	closeOnce sync.Once
}

func (s *Speaker) setPipeline(p ttsaudio.Pipeline) {
	s.pipelineMu.Lock()
	s.pipeline = p
	s.pipelineMu.Unlock()
}

func (s *Speaker) currentPipeline() ttsaudio.Pipeline {
	s.pipelineMu.Lock()
	defer s.pipelineMu.Unlock()
	return s.pipeline
}

// New constructs a Speaker holding defaultConfig and the given pipeline
// Factory. The worker builds each utterance's URL from the owning
// client's Configuration and does not read defaultConfig. Call Start to
// launch the worker goroutine.
func New(defaultConfig *ttsconfig.Configuration, newPipeline ttsaudio.Factory, log ttslog.Logger) *Speaker {
	if log == nil {
		log = ttslog.NoOp()
	}
	s := &Speaker{
		log:           log,
		defaultConfig: defaultConfig,
		newPipeline:   newPipeline,
		runThread:     true,
		done:          make(chan struct{}),
	}
	s.queueCond = sync.NewCond(&s.queueMu)
	return s
}

// Start launches the worker goroutine. Must be called at most once.
func (s *Speaker) Start() {
	go s.run()
}

// Close stops the worker and tears the pipeline down. Idempotent.
func (s *Speaker) Close() error {
	s.closeOnce.Do(func() {
		s.queueMu.Lock()
		s.runThread = false
		s.queueCond.Broadcast()
		s.queueMu.Unlock()
		<-s.done
	})
	return nil
}

// Speak enqueues a speech item. If the client's own Configuration marks it
// preemptive, the entire speaker is reset first: the queue is flushed and,
// if something is mid-utterance, the worker is signalled to bail out.
// Discarded queue items are reported back to their owning clients as
// Cancelled; the in-flight item (if any) is reported Interrupted by the
// worker loop itself once it observes the flush.
func (s *Speaker) Speak(client Client, id uint64, text string, secure bool) {
	if client.Configuration().Preemptive() {
		s.reset()
	}
	s.queueMu.Lock()
	s.queue = append(s.queue, speechItem{client: client, id: id, text: text, secure: secure})
	s.queueCond.Signal()
	s.queueMu.Unlock()
}

// reset flushes the pending queue and, if currently speaking, marks
// flushed so the worker bails out of its current wait. Discarded queue
// items are grouped by owning client and delivered as Cancelled.
func (s *Speaker) reset() {
	s.stateMu.Lock()
	speaking := s.isSpeaking
	s.stateMu.Unlock()

	s.queueMu.Lock()
	if speaking {
		s.markFlushedLocked()
	}
	discarded := s.queue
	s.queue = nil
	s.queueMu.Unlock()

	deliverCancelled(discarded)
}

// ClearAllSpeechesFrom removes every queued item owned by client and
// returns their ids. If the in-flight item also belongs to client, the
// worker is signalled to bail out (it will emit Interrupted for that id
// itself); the caller is responsible for emitting Cancelled for the
// returned ids.
func (s *Speaker) ClearAllSpeechesFrom(client Client) []uint64 {
	s.queueMu.Lock()
	kept := s.queue[:0:0]
	var cancelled []uint64
	for _, item := range s.queue {
		if item.client == client {
			cancelled = append(cancelled, item.id)
			continue
		}
		kept = append(kept, item)
	}
	s.queue = kept
	s.queueMu.Unlock()

	s.stateMu.Lock()
	inFlight := s.isSpeaking && s.clientSpeaking == client
	s.stateMu.Unlock()
	if inFlight {
		s.queueMu.Lock()
		s.markFlushedLocked()
		s.queueMu.Unlock()
	}
	return cancelled
}

// markFlushedLocked sets flushed and wakes both the queue-wait and any
// in-progress waitForAudioToFinish. Caller must hold queueMu.
func (s *Speaker) markFlushedLocked() {
	s.flushed = true
	s.queueCond.Broadcast()
	if s.flushCh != nil {
		close(s.flushCh)
		s.flushCh = nil
	}
}

func deliverCancelled(items []speechItem) {
	byClient := make(map[Client][]uint64)
	var order []Client
	for _, it := range items {
		if _, ok := byClient[it.client]; !ok {
			order = append(order, it.client)
		}
		byClient[it.client] = append(byClient[it.client], it.id)
	}
	for _, c := range order {
		c.Cancelled(byClient[c])
	}
}

// IsSpeaking reports whether client is the one currently playing. A nil
// client asks the global speaking flag.
func (s *Speaker) IsSpeaking(client Client) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if client != nil {
		return s.isSpeaking && s.clientSpeaking == client
	}
	return s.isSpeaking
}

// GetSpeechState answers §4.2's getSpeechState(client, id).
func (s *Speaker) GetSpeechState(client Client, id uint64) SpeechState {
	s.stateMu.Lock()
	speaking := s.isSpeaking && s.clientSpeaking == client && s.currentID == id
	paused := s.paused
	s.stateMu.Unlock()
	if speaking {
		if paused {
			return Paused
		}
		return InProgress
	}
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	for _, it := range s.queue {
		if it.client == client && it.id == id {
			return Pending
		}
	}
	return NotFound
}

// Pause/Resume only affect the item currently playing, matched by id.
// Pausing while not speaking that id is a no-op success, matching the
// original's behavior.
func (s *Speaker) Pause(id uint64) {
	s.stateMu.Lock()
	match := s.isSpeaking && s.currentID == id
	if match {
		s.paused = true
	}
	client := s.clientSpeaking
	s.stateMu.Unlock()
	if !match {
		return
	}
	pipeline := s.currentPipeline()
	if pipeline == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pipeline.SetState(ctx, ttsaudio.Paused); err == nil && client != nil {
		client.SpeakerPaused(id)
	}
}

func (s *Speaker) Resume(id uint64) {
	s.stateMu.Lock()
	match := s.isSpeaking && s.currentID == id
	if match {
		s.paused = false
	}
	client := s.clientSpeaking
	s.stateMu.Unlock()
	if !match {
		return
	}
	pipeline := s.currentPipeline()
	if pipeline == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pipeline.SetState(ctx, ttsaudio.Playing); err == nil && client != nil {
		client.SpeakerResumed(id)
	}
}

func (s *Speaker) setSpeakingState(state bool, client Client, id uint64) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.isSpeaking = state
	s.clientSpeaking = client
	s.currentID = id
	s.paused = false
	if !state {
		// About to pull the next item; no more need to bail out.
		s.queueMu.Lock()
		s.flushed = false
		s.flushCh = nil
		s.queueMu.Unlock()
	}
}

func (s *Speaker) isFlushed() bool {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.flushed
}

// run is the worker goroutine, following GStreamerThreadFunc's step order.
func (s *Speaker) run() {
	defer close(s.done)

	pipeline, err := s.newPipeline()
	if err != nil {
		s.log.Error("failed to create pipeline", "error", err.Error())
		return
	}
	s.setPipeline(pipeline)

	for {
		s.queueMu.Lock()
		for len(s.queue) == 0 && s.runThread {
			s.queueCond.Wait()
		}
		if !s.runThread {
			s.queueMu.Unlock()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			pipeline.SetState(ctx, ttsaudio.Null)
			cancel()
			pipeline.Close()
			return
		}
		item := s.queue[0]
		s.queue = s.queue[1:]
		s.flushed = false
		flushCh := make(chan struct{})
		s.flushCh = flushCh
		s.queueMu.Unlock()

		s.setSpeakingState(true, item.client, item.id)

		if !s.isFlushed() {
			item.client.WillSpeak(item.id, item.text)
		}

		if !s.isFlushed() {
			s.speakText(pipeline, item, flushCh)
		}

		flushed := s.isFlushed()
		pipelineErr := s.pipelineError
		switch {
		case pipelineErr:
			item.client.PlaybackError(item.id)
		case flushed:
			item.client.Interrupted(item.id)
		default:
			item.client.Spoke(item.id, item.text)
		}

		s.setSpeakingState(false, nil, 0)
		pipeline = s.resetPipeline(pipeline)
	}
}

// speakText sets the source URL, drives the pipeline to Playing, and waits
// for EOS/error/flush bounded by eosTimeout — step 5-6 of §4.2. flushCh is
// closed by markFlushedLocked if this utterance is pre-empted mid-flight.
func (s *Speaker) speakText(pipeline ttsaudio.Pipeline, item speechItem, flushCh <-chan struct{}) {
	s.isEOS = false

	if s.pipelineError {
		s.log.Warn("skipping speakText, pipeline in error state")
		return
	}

	cfg := item.client.Configuration()
	base := cfg.Endpoint()
	if item.secure {
		base = cfg.SecureEndpoint()
	}
	url := ttsaudio.ConstructURL(base, cfg.Voice(), cfg.Language(), cfg.Rate(), item.text)
	pipeline.SetSource(url)
	pipeline.SetVolume(cfg.Volume())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	pipeline.SetState(ctx, ttsaudio.Playing)
	cancel()

	s.waitForAudioToFinish(pipeline, flushCh, eosTimeout)
}

// waitForAudioToFinish blocks until EOS, a pipeline error, a flush signal,
// or timeout, whichever comes first, and always leaves the pipeline at
// Null afterward.
func (s *Speaker) waitForAudioToFinish(pipeline ttsaudio.Pipeline, flushCh <-chan struct{}, timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
loop:
	for {
		select {
		case msg := <-pipeline.Bus():
			switch msg.Kind {
			case ttsaudio.EOS:
				s.isEOS = true
				break loop
			case ttsaudio.Error:
				s.pipelineError = true
				s.log.Error("pipeline error", "detail", msg.Text)
				break loop
			case ttsaudio.Warning:
				s.log.Warn("pipeline warning", "detail", msg.Text)
			case ttsaudio.StateChanged:
			}
		case <-flushCh:
			s.log.Warn("stopped waiting for audio without hitting EOS", "reason", "flushed")
			break loop
		case <-deadline.C:
			s.log.Error("stopped waiting for audio without hitting EOS", "reason", "timeout")
			break loop
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	pipeline.SetState(ctx, ttsaudio.Null)
	cancel()
}

// resetPipeline recreates the pipeline on error, else leaves it at Null
// ready for the next item — step 8 of §4.2. Returns the pipeline to keep
// using for subsequent iterations.
func (s *Speaker) resetPipeline(pipeline ttsaudio.Pipeline) ttsaudio.Pipeline {
	if !s.pipelineError {
		return pipeline
	}
	s.log.Warn("pipeline error occurred, recovering by recreating pipeline")
	pipeline.Close()
	s.pipelineError = false

	next, err := s.newPipeline()
	if err != nil {
		s.log.Error("failed to recreate pipeline", "error", err.Error())
		return pipeline
	}
	s.setPipeline(next)
	return next
}
