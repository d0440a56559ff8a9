// Package audio holds the small WAV codec used by the synthesis sink
// (decoding a TTS endpoint's response), plus NewWavBuffer for wrapping
// raw PCM in a WAV container.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// ErrNotWAV is returned by Decode when the input doesn't start with a
// RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE stream")

// Decoded holds the PCM payload and format extracted from a WAV
// stream's fmt chunk.
type Decoded struct {
	PCM        []byte
	SampleRate int
	Channels   int
	BitDepth   int
}

// Decode parses a canonical little-endian WAV stream (RIFF/WAVE, one
// fmt chunk, one data chunk — the shape any of the TTS endpoints this
// sink talks to produces) and returns its PCM payload and format.
// Chunks are read generically so extra chunks between fmt and data
// (e.g. LIST) don't trip up parsing.
func Decode(b []byte) (Decoded, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return Decoded{}, ErrNotWAV
	}

	var d Decoded
	haveFmt := false
	pos := 12
	for pos+8 <= len(b) {
		id := string(b[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(b) {
			break
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return Decoded{}, errors.New("audio: fmt chunk too short")
			}
			d.Channels = int(binary.LittleEndian.Uint16(b[body+2 : body+4]))
			d.SampleRate = int(binary.LittleEndian.Uint32(b[body+4 : body+8]))
			d.BitDepth = int(binary.LittleEndian.Uint16(b[body+14 : body+16]))
			haveFmt = true
		case "data":
			d.PCM = b[body : body+size]
		}

		pos = body + size
		if size%2 == 1 {
			pos++ // chunks are word-aligned
		}
	}

	if !haveFmt || d.PCM == nil {
		return Decoded{}, errors.New("audio: missing fmt or data chunk")
	}
	return d, nil
}

// NewWavBuffer wraps raw 16-bit mono PCM in a minimal WAV container.
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))           
	binary.Write(buf, binary.LittleEndian, uint16(1))            
	binary.Write(buf, binary.LittleEndian, uint16(1))            
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))   
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2)) 
	binary.Write(buf, binary.LittleEndian, uint16(2))            
	binary.Write(buf, binary.LittleEndian, uint16(16))           

	
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
