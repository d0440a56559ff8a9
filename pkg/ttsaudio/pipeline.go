// Package ttsaudio defines the audio decode/sink pipeline boundary: a black
// box exposing states {Null, Ready, Paused, Playing}, an HTTP source
// location property, a volume property, and a bus delivering
// State-Changed/EOS/Error/Warning messages. The Speaker Engine drives a
// Pipeline; it never constructs one directly.
package ttsaudio

import "context"

type State int

const (
	Null State = iota
	Ready
	Paused
	Playing
)

func (s State) String() string {
	switch s {
	case Null:
		return "NULL"
	case Ready:
		return "READY"
	case Paused:
		return "PAUSED"
	case Playing:
		return "PLAYING"
	default:
		return "UNKNOWN"
	}
}

type MessageKind int

const (
	StateChanged MessageKind = iota
	EOS
	Error
	Warning
)

// Message is one bus delivery. Text carries a human-readable detail for
// Warning/Error messages and is empty for EOS/StateChanged.
type Message struct {
	Kind MessageKind
	Text string
}

// Pipeline is the black-box media pipeline the Speaker Engine drives. All
// methods are safe to call from the engine's single worker goroutine only;
// Bus() may be read from that same goroutine via a channel receive.
type Pipeline interface {
	// SetState requests a state transition and blocks until the pipeline
	// acknowledges it or ctx is done, matching the original's synchronous
	// gst_element_set_state/get_state pairing.
	SetState(ctx context.Context, s State) error

	// SetSource sets the HTTP source location property (the constructed
	// TTS request URL).
	SetSource(url string)

	// SetVolume sets the playback volume, 1-100.
	SetVolume(v int)

	// Bus returns the channel the pipeline delivers bus Messages on. The
	// channel is never closed while the pipeline is alive.
	Bus() <-chan Message

	// Close tears the pipeline down, releasing any underlying resources.
	Close() error
}

// Factory constructs a new Pipeline instance, analogous to the original's
// createPipeline/destroyPipeline pair collapsed into construction/Close.
type Factory func() (Pipeline, error)
