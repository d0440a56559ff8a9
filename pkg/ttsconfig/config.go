// Package ttsconfig implements the Configuration type: a typed bag of
// synthesis parameters with validation and merge semantics, grounded on
// original_source/ttsengine/TTSSpeaker.{h,cpp}'s TTSConfiguration class.
package ttsconfig

import (
	"strings"
	"sync"
)

const (
	MinVolume = 1
	MaxVolume = 100
	MinRate   = 1
	MaxRate   = 100

	defaultVolume = MaxVolume
	defaultRate   = 50
)

// Configuration is a typed bag of synthesis parameters. Zero value is not
// valid; use New for the documented defaults.
type Configuration struct {
	mu sync.RWMutex

	endpoint       string
	secureEndpoint string
	language       string
	voice          string
	volume         int
	rate           int
	preemptive     bool
	extras         map[string]string
}

// New returns a Configuration with the documented defaults: max volume,
// rate 50, preemptive speaking enabled.
func New() *Configuration {
	return &Configuration{
		volume:     defaultVolume,
		rate:       defaultRate,
		preemptive: true,
		extras:     make(map[string]string),
	}
}

func (c *Configuration) SetEndpoint(v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoint = v
}

func (c *Configuration) SetSecureEndpoint(v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.secureEndpoint = v
}

func (c *Configuration) SetLanguage(v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.language = v
}

func (c *Configuration) SetVoice(v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voice = v
}

// SetVolume validates the range and silently ignores out-of-range input,
// matching the original setVolume's log-and-ignore behavior.
func (c *Configuration) SetVolume(v int) {
	if v < MinVolume || v > MaxVolume {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volume = v
}

func (c *Configuration) SetRate(v int) {
	if v < MinRate || v > MaxRate {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rate = v
}

func (c *Configuration) SetPreemptive(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.preemptive = v
}

// SetExtra stores an opaque key/value pair, including voice_for_<lang>
// per-language default-voice entries.
func (c *Configuration) SetExtra(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.extras == nil {
		c.extras = make(map[string]string)
	}
	c.extras[key] = value
}

func (c *Configuration) Endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoint
}

func (c *Configuration) SecureEndpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.secureEndpoint
}

func (c *Configuration) Language() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.language
}

func (c *Configuration) Volume() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.volume
}

func (c *Configuration) Rate() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rate
}

func (c *Configuration) Preemptive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.preemptive
}

func (c *Configuration) Extra(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.extras[key]
	return v, ok
}

// Extras returns a copy of the extras map for enumeration (listVoices).
func (c *Configuration) Extras() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.extras))
	for k, v := range c.extras {
		out[k] = v
	}
	return out
}

// Voice resolves the explicit voice; if empty, the per-language default at
// voice_for_<language>; else the empty string.
func (c *Configuration) Voice() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.voiceLocked()
}

func (c *Configuration) voiceLocked() string {
	if c.voice != "" {
		return c.voice
	}
	if c.language == "" {
		return ""
	}
	return c.extras["voice_for_"+c.language]
}

// IsValid reports whether at least one of endpoint/secureEndpoint is set.
func (c *Configuration) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoint != "" || c.secureEndpoint != ""
}

// UpdateWith merges other into c field-wise: only non-empty/in-range
// fields from other overwrite; the setters' own validation does the
// filtering, so an invalid field in other is simply a no-op.
func (c *Configuration) UpdateWith(other *Configuration) {
	if other == nil {
		return
	}
	other.mu.RLock()
	endpoint, secureEndpoint := other.endpoint, other.secureEndpoint
	language, voice := other.language, other.voice
	volume, rate, preemptive := other.volume, other.rate, other.preemptive
	extras := make(map[string]string, len(other.extras))
	for k, v := range other.extras {
		extras[k] = v
	}
	other.mu.RUnlock()

	if endpoint != "" {
		c.SetEndpoint(endpoint)
	}
	if secureEndpoint != "" {
		c.SetSecureEndpoint(secureEndpoint)
	}
	if language != "" {
		c.SetLanguage(language)
	}
	if voice != "" {
		c.SetVoice(voice)
	}
	c.SetVolume(volume)
	c.SetRate(rate)
	c.SetPreemptive(preemptive)
	for k, v := range extras {
		c.SetExtra(k, v)
	}
}

// Clone returns a deep, independent copy.
func (c *Configuration) Clone() *Configuration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := &Configuration{
		endpoint:       c.endpoint,
		secureEndpoint: c.secureEndpoint,
		language:       c.language,
		voice:          c.voice,
		volume:         c.volume,
		rate:           c.rate,
		preemptive:     c.preemptive,
		extras:         make(map[string]string, len(c.extras)),
	}
	for k, v := range c.extras {
		out.extras[k] = v
	}
	return out
}

// Wire is the JSON-serializable snapshot of a Configuration. Configuration
// itself carries a mutex and unexported fields, so every RPC boundary that
// needs to move a Configuration across the wire does so through Wire rather
// than marshaling the struct directly (which would round-trip as "{}").
type Wire struct {
	Endpoint       string            `json:"endpoint"`
	SecureEndpoint string            `json:"secureEndpoint"`
	Language       string            `json:"language"`
	Voice          string            `json:"voice"`
	Volume         int               `json:"volume"`
	Rate           int               `json:"rate"`
	Preemptive     bool              `json:"preemptive"`
	Extras         map[string]string `json:"extras"`
}

// ToWire snapshots c for serialization.
func (c *Configuration) ToWire() Wire {
	c.mu.RLock()
	defer c.mu.RUnlock()
	extras := make(map[string]string, len(c.extras))
	for k, v := range c.extras {
		extras[k] = v
	}
	return Wire{
		Endpoint:       c.endpoint,
		SecureEndpoint: c.secureEndpoint,
		Language:       c.language,
		Voice:          c.voice,
		Volume:         c.volume,
		Rate:           c.rate,
		Preemptive:     c.preemptive,
		Extras:         extras,
	}
}

// FromWire reconstructs a Configuration from a Wire snapshot, routing every
// field through the same setters New/UpdateWith use so validation applies.
func FromWire(w Wire) *Configuration {
	c := New()
	c.SetEndpoint(w.Endpoint)
	c.SetSecureEndpoint(w.SecureEndpoint)
	c.SetLanguage(w.Language)
	c.SetVoice(w.Voice)
	c.SetVolume(w.Volume)
	c.SetRate(w.Rate)
	c.SetPreemptive(w.Preemptive)
	for k, v := range w.Extras {
		c.SetExtra(k, v)
	}
	return c
}

// ReconcileEndpoints copies endpoint into secureEndpoint or vice versa when
// exactly one is set, so both secure and insecure speak requests succeed.
// Mirrors the Manager's post-load fixup in the original config file loader.
func (c *Configuration) ReconcileEndpoints() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.endpoint == "" && c.secureEndpoint != "" {
		c.endpoint = c.secureEndpoint
	} else if c.secureEndpoint == "" && c.endpoint != "" {
		c.secureEndpoint = c.endpoint
	}
}

// Fields returns the flat six-field map shape used by getConfiguration on
// both the Session and Manager facades (extras are deliberately excluded,
// matching the original getConfiguration response shape).
func (c *Configuration) Fields() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return map[string]string{
		"TTSEndPoint":       c.endpoint,
		"SecureTTSEndPoint": c.secureEndpoint,
		"Language":          c.language,
		"Voice":             c.voiceLocked(),
		"Volume":            itoa(c.volume),
		"Rate":              itoa(c.rate),
	}
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var b [20]byte
	i := len(b)
	for v > 0 {
		i--
		b[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		b[i] = '-'
	}
	return string(b[i:])
}

// VoicesForLanguage returns the extras matching voice_for_<language>
// (exact match) or, for language "*", every voice_for_* value.
func (c *Configuration) VoicesForLanguage(language string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if language == "" {
		if v := c.voiceLocked(); v != "" {
			return []string{v}
		}
		return nil
	}
	var out []string
	if language == "*" {
		for k, v := range c.extras {
			if strings.HasPrefix(k, "voice_for_") {
				out = append(out, v)
			}
		}
		return out
	}
	if v, ok := c.extras["voice_for_"+language]; ok {
		out = append(out, v)
	}
	return out
}
