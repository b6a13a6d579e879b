package media

import (
	"fmt"
	"strings"

	"github.com/zaf/g711"
	opus "gopkg.in/hraban/opus.v2"

	"github.com/voxgate/voxgate/internal/audio"
)

// RTP payload types for supported codecs.
const (
	PayloadPCMU = 0   // G.711 u-law
	PayloadPCMA = 8   // G.711 a-law
	PayloadOpus = 111 // Opus (dynamic, commonly 111)
)

// Transcoder converts between a negotiated wire codec and the internal
// 48 kHz signed 16-bit mono format. G.711 codecs run at 8 kHz on the wire
// and are resampled on both paths; Opus is encoded and decoded at 48 kHz
// directly.
type Transcoder struct {
	payloadType uint8
	name        string
	clockRate   int

	opusEnc *opus.Encoder
	opusDec *opus.Decoder
	opusBuf []byte
}

// NewTranscoder creates a transcoder for a codec negotiated from SDP.
// Supported codecs are PCMU, PCMA and opus (48000/1 or 48000/2 signaled,
// processed as mono).
func NewTranscoder(c Codec) (*Transcoder, error) {
	t := &Transcoder{
		payloadType: uint8(c.PayloadType),
		name:        strings.ToLower(c.Name),
		clockRate:   c.ClockRate,
	}

	switch t.name {
	case "pcmu", "pcma":
		t.clockRate = audio.RateTelephony

	case "opus":
		t.clockRate = audio.RateBridge
		enc, err := opus.NewEncoder(audio.RateBridge, 1, opus.AppVoIP)
		if err != nil {
			return nil, fmt.Errorf("creating opus encoder: %w", err)
		}
		dec, err := opus.NewDecoder(audio.RateBridge, 1)
		if err != nil {
			return nil, fmt.Errorf("creating opus decoder: %w", err)
		}
		t.opusEnc = enc
		t.opusDec = dec
		t.opusBuf = make([]byte, maxRTPPacket)

	default:
		return nil, fmt.Errorf("unsupported codec %q", c.Name)
	}

	return t, nil
}

// PayloadType returns the negotiated RTP payload type.
func (t *Transcoder) PayloadType() uint8 { return t.payloadType }

// Name returns the lowercase codec name.
func (t *Transcoder) Name() string { return t.name }

// ClockRate returns the RTP clock rate in Hz.
func (t *Transcoder) ClockRate() int { return t.clockRate }

// TimestampStep returns the RTP timestamp increment for one 20 ms frame.
func (t *Transcoder) TimestampStep() uint32 {
	return uint32(audio.SamplesPerFrame(t.clockRate))
}

// Decode converts one RTP payload into a 48 kHz PCM frame.
func (t *Transcoder) Decode(payload []byte) ([]int16, error) {
	switch t.name {
	case "pcmu":
		pcm := audio.BytesToPCM(g711.DecodeUlaw(payload))
		return audio.Resample(pcm, audio.RateTelephony, audio.RateBridge), nil

	case "pcma":
		pcm := audio.BytesToPCM(g711.DecodeAlaw(payload))
		return audio.Resample(pcm, audio.RateTelephony, audio.RateBridge), nil

	case "opus":
		pcm := make([]int16, audio.SamplesPerFrame(audio.RateBridge)*3)
		n, err := t.opusDec.Decode(payload, pcm)
		if err != nil {
			return nil, fmt.Errorf("opus decode: %w", err)
		}
		return pcm[:n], nil
	}
	return nil, fmt.Errorf("unsupported codec %q", t.name)
}

// Encode converts one 20 ms 48 kHz PCM frame into an RTP payload.
func (t *Transcoder) Encode(pcm []int16) ([]byte, error) {
	switch t.name {
	case "pcmu":
		narrow := audio.Resample(pcm, audio.RateBridge, audio.RateTelephony)
		return g711.EncodeUlaw(audio.PCMToBytes(narrow)), nil

	case "pcma":
		narrow := audio.Resample(pcm, audio.RateBridge, audio.RateTelephony)
		return g711.EncodeAlaw(audio.PCMToBytes(narrow)), nil

	case "opus":
		n, err := t.opusEnc.Encode(pcm, t.opusBuf)
		if err != nil {
			return nil, fmt.Errorf("opus encode: %w", err)
		}
		out := make([]byte, n)
		copy(out, t.opusBuf[:n])
		return out, nil
	}
	return nil, fmt.Errorf("unsupported codec %q", t.name)
}
