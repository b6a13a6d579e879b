// Package audio provides sample-rate conversion, PCM reframing, and tone
// synthesis for the 48 kHz call bridge. All PCM is signed 16-bit mono,
// little-endian on the wire, 20 ms per frame.
package audio

import (
	"encoding/binary"
	"math"
	"sync"
)

// Supported sample rates in Hz.
const (
	RateTelephony = 8000  // G.711 legs
	RateAIIn      = 16000 // audio sent to the AI service
	RateAIOut     = 24000 // audio received from the AI service
	RateBridge    = 48000 // internal bridge clock
)

// FrameMs is the fixed frame duration.
const FrameMs = 20

// SamplesPerFrame returns the number of samples in one 20 ms frame at the
// given rate.
func SamplesPerFrame(rate int) int {
	return rate * FrameMs / 1000
}

// FrameBytes returns the byte length of one 20 ms pcm16 frame at the given rate.
func FrameBytes(rate int) int {
	return SamplesPerFrame(rate) * 2
}

// Resample converts PCM between sample rates using linear interpolation.
// Both rates must be from the supported set; identical rates return a copy.
// Output amplitude is clamped to the int16 range.
func Resample(in []int16, from, to int) []int16 {
	if len(in) == 0 {
		return nil
	}
	if from == to {
		out := make([]int16, len(in))
		copy(out, in)
		return out
	}

	outLen := len(in) * to / from
	out := make([]int16, outLen)
	step := float64(from) / float64(to)

	pos := 0.0
	for i := range out {
		idx := int(pos)
		if idx >= len(in) {
			idx = len(in) - 1
		}
		frac := pos - float64(idx)
		s0 := float64(in[idx])
		s1 := s0
		if idx+1 < len(in) {
			s1 = float64(in[idx+1])
		}
		out[i] = clamp(s0 + (s1-s0)*frac)
		pos += step
	}
	return out
}

func clamp(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// PCMToBytes serializes samples as little-endian pcm16.
func PCMToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToPCM parses little-endian pcm16. A trailing odd byte is dropped.
func BytesToPCM(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// Reframer slices a byte stream into fixed-size frames, buffering any
// partial tail until the next Push. The emitted frames concatenated with
// Tail() always equal the bytes pushed in.
type Reframer struct {
	frameBytes int
	buf        []byte
}

// NewReframer creates a reframer emitting frames of frameBytes bytes.
func NewReframer(frameBytes int) *Reframer {
	return &Reframer{frameBytes: frameBytes}
}

// Push appends data and returns all complete frames now available.
// Returned frames are freshly allocated and safe to retain.
func (r *Reframer) Push(data []byte) [][]byte {
	r.buf = append(r.buf, data...)

	var frames [][]byte
	for len(r.buf) >= r.frameBytes {
		frame := make([]byte, r.frameBytes)
		copy(frame, r.buf[:r.frameBytes])
		frames = append(frames, frame)
		r.buf = r.buf[r.frameBytes:]
	}
	// Compact so the retained tail doesn't pin the whole backing array.
	if len(r.buf) > 0 && cap(r.buf) > 4*r.frameBytes {
		tail := make([]byte, len(r.buf))
		copy(tail, r.buf)
		r.buf = tail
	}
	return frames
}

// Tail returns the buffered partial frame, if any.
func (r *Reframer) Tail() []byte {
	return r.buf
}

// Reset discards any buffered tail.
func (r *Reframer) Reset() {
	r.buf = nil
}

// Silence returns a zeroed PCM buffer of the given duration.
func Silence(rate, ms int) []int16 {
	return make([]int16, rate*ms/1000)
}

// Tone generates a sine tone. amplitude is a fraction of full scale
// (0.0-1.0). A 10 ms linear fade is applied at both ends to avoid clicks.
func Tone(freqHz float64, ms, rate int, amplitude float64) []int16 {
	total := rate * ms / 1000
	samples := make([]int16, total)
	peak := amplitude * 32767.0
	fade := rate * 10 / 1000
	if fade*2 > total {
		fade = total / 2
	}

	for i := 0; i < total; i++ {
		t := float64(i) / float64(rate)
		v := peak * math.Sin(2.0*math.Pi*freqHz*t)
		if i < fade {
			v *= float64(i) / float64(fade)
		} else if i >= total-fade {
			v *= float64(total-1-i) / float64(fade)
		}
		samples[i] = clamp(v)
	}
	return samples
}

// Beep parameters: what callers hear after a wrong unlock code.
const (
	beepFreqHz    = 800.0
	beepMs        = 150
	beepAmplitude = 0.3
)

var (
	beepOnce   sync.Once
	beepFrames []int16
)

// Beep returns the cached 800 Hz confirmation beep at the bridge rate.
// The tone is generated once and shared; callers must not mutate it.
func Beep() []int16 {
	beepOnce.Do(func() {
		beepFrames = Tone(beepFreqHz, beepMs, RateBridge, beepAmplitude)
	})
	return beepFrames
}
