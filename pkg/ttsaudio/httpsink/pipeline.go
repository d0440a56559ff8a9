// Package httpsink is the reference ttsaudio.Pipeline: it fetches
// synthesized speech from an HTTP(S) TTS endpoint and plays the
// decoded PCM out the local default audio device. It exists so a
// deployment without a real hardware/vendor TTS engine can still
// exercise the Speaker Engine's full state machine end to end.
//
// Grounded on the gen2brain/malgo device-setup idiom (S16 format,
// onSamples callback copying from a mutex-guarded byte buffer) adapted
// to playback-only, and
// pkg/audio/wav.go's codec for decoding the endpoint's WAV response.
package httpsink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/rdkcentral/tts-coordinator/pkg/audio"
	"github.com/rdkcentral/tts-coordinator/pkg/ttsaudio"
)

// Pipeline is a reusable playback pipeline: the Speaker worker creates
// one when it starts, drives it Playing→Null for every utterance, and
// replaces it only after a pipeline error.
type Pipeline struct {
	mallocCtx *malgo.AllocatedContext
	device    *malgo.Device

	client *http.Client

	mu      sync.Mutex
	state   ttsaudio.State
	source  string
	volume  int
	pcm     []byte
	pos     int
	eosSent bool

	bus    chan ttsaudio.Message
	cancel context.CancelFunc

	closeOnce sync.Once
}

// NewFactory returns a ttsaudio.Factory producing Pipelines that play
// 16-bit mono PCM at sampleRate.
func NewFactory(sampleRate int) ttsaudio.Factory {
	return func() (ttsaudio.Pipeline, error) {
		return newPipeline(sampleRate)
	}
}

func newPipeline(sampleRate int) (*Pipeline, error) {
	mallocCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("httpsink: init audio context: %w", err)
	}

	p := &Pipeline{
		mallocCtx: mallocCtx,
		client:    &http.Client{Timeout: 30 * time.Second},
		volume:    100,
		bus:       make(chan ttsaudio.Message, 16),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)

	device, err := malgo.InitDevice(mallocCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: p.onSamples,
	})
	if err != nil {
		mallocCtx.Uninit()
		return nil, fmt.Errorf("httpsink: init audio device: %w", err)
	}
	p.device = device

	return p, nil
}

func (p *Pipeline) onSamples(pOutput, _ []byte, _ uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := copy(pOutput, applyVolume(p.pcm[p.pos:], p.volume))
	p.pos += n
	for i := n; i < len(pOutput); i++ {
		pOutput[i] = 0
	}

	if n < len(pOutput) && p.pos >= len(p.pcm) && len(p.pcm) > 0 && !p.eosSent {
		p.eosSent = true
		p.sendLocked(ttsaudio.Message{Kind: ttsaudio.EOS})
	}
}

func applyVolume(pcm []byte, volume int) []byte {
	if volume >= 100 || len(pcm) < 2 {
		return pcm
	}
	out := make([]byte, len(pcm))
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		s = int16(int32(s) * int32(volume) / 100)
		out[i] = byte(s)
		out[i+1] = byte(s >> 8)
	}
	return out
}

func (p *Pipeline) sendLocked(msg ttsaudio.Message) {
	select {
	case p.bus <- msg:
	default:
	}
}

func (p *Pipeline) SetSource(url string) {
	p.mu.Lock()
	p.source = url
	p.mu.Unlock()
}

func (p *Pipeline) SetVolume(v int) {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	p.mu.Lock()
	p.volume = v
	p.mu.Unlock()
}

func (p *Pipeline) Bus() <-chan ttsaudio.Message { return p.bus }

// SetState drives Null/Ready/Paused/Playing. Fetching the synthesis
// response happens on the Playing transition so the Speaker's
// construct-URL-then-play step (§4.2 step 5) maps directly onto one
// SetState call.
func (p *Pipeline) SetState(ctx context.Context, state ttsaudio.State) error {
	switch state {
	case ttsaudio.Playing:
		return p.startPlaying(ctx)
	case ttsaudio.Paused:
		p.mu.Lock()
		p.state = state
		p.mu.Unlock()
		return p.device.Stop()
	case ttsaudio.Ready, ttsaudio.Null:
		p.mu.Lock()
		if p.cancel != nil {
			p.cancel()
			p.cancel = nil
		}
		p.pcm = nil
		p.pos = 0
		p.eosSent = false
		p.state = state
		p.mu.Unlock()
		return p.device.Stop()
	}
	return nil
}

func (p *Pipeline) startPlaying(ctx context.Context) error {
	p.mu.Lock()
	url := p.source
	p.state = ttsaudio.Playing
	fetchCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	go p.fetchAndPlay(fetchCtx, url)

	return p.device.Start()
}

func (p *Pipeline) fetchAndPlay(ctx context.Context, url string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.emitError(err)
		return
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.emitError(err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.emitError(fmt.Errorf("httpsink: synthesis request failed with status %d", resp.StatusCode))
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.emitError(err)
		return
	}

	decoded, err := audio.Decode(body)
	pcm := body
	if err == nil {
		pcm = decoded.PCM
	}

	p.mu.Lock()
	select {
	case <-ctx.Done():
		p.mu.Unlock()
		return
	default:
	}
	p.pcm = pcm
	p.pos = 0
	p.mu.Unlock()
}

func (p *Pipeline) emitError(err error) {
	select {
	case p.bus <- ttsaudio.Message{Kind: ttsaudio.Error, Text: err.Error()}:
	default:
	}
}

func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		if p.cancel != nil {
			p.cancel()
		}
		p.mu.Unlock()
		if p.device != nil {
			p.device.Uninit()
		}
		if p.mallocCtx != nil {
			p.mallocCtx.Uninit()
		}
		close(p.bus)
	})
	return nil
}
