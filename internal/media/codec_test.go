package media

import (
	"math"
	"testing"

	"github.com/voxgate/voxgate/internal/audio"
)

func TestNewTranscoderUnsupported(t *testing.T) {
	_, err := NewTranscoder(Codec{PayloadType: 18, Name: "G729", ClockRate: 8000})
	if err == nil {
		t.Error("expected error for G729")
	}
}

func TestTranscoderG711RoundTrip(t *testing.T) {
	for _, name := range []string{"PCMU", "PCMA"} {
		t.Run(name, func(t *testing.T) {
			pt := PayloadPCMU
			if name == "PCMA" {
				pt = PayloadPCMA
			}
			tc, err := NewTranscoder(Codec{PayloadType: pt, Name: name, ClockRate: 8000})
			if err != nil {
				t.Fatalf("NewTranscoder: %v", err)
			}

			// One 20 ms frame of a 400 Hz tone at 48 kHz.
			frame := make([]int16, audio.SamplesPerFrame(audio.RateBridge))
			for i := range frame {
				frame[i] = int16(8000 * math.Sin(2*math.Pi*400*float64(i)/float64(audio.RateBridge)))
			}

			payload, err := tc.Encode(frame)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			// G.711 carries one byte per 8 kHz sample.
			if len(payload) != audio.SamplesPerFrame(audio.RateTelephony) {
				t.Fatalf("payload len = %d, want %d", len(payload), audio.SamplesPerFrame(audio.RateTelephony))
			}

			decoded, err := tc.Decode(payload)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if len(decoded) != len(frame) {
				t.Fatalf("decoded len = %d, want %d", len(decoded), len(frame))
			}

			// G.711 plus the double resample is lossy; check the signal
			// survived with roughly the right energy.
			var inSum, outSum float64
			for i := range frame {
				inSum += math.Abs(float64(frame[i]))
				outSum += math.Abs(float64(decoded[i]))
			}
			ratio := outSum / inSum
			if ratio < 0.5 || ratio > 1.5 {
				t.Errorf("energy ratio after round trip = %.2f, want within [0.5, 1.5]", ratio)
			}
		})
	}
}

func TestTranscoderTimestampStep(t *testing.T) {
	tests := []struct {
		name string
		pt   int
		rate int
		want uint32
	}{
		{"PCMU", PayloadPCMU, 8000, 160},
		{"PCMA", PayloadPCMA, 8000, 160},
	}
	for _, tt := range tests {
		tc, err := NewTranscoder(Codec{PayloadType: tt.pt, Name: tt.name, ClockRate: tt.rate})
		if err != nil {
			t.Fatalf("NewTranscoder(%s): %v", tt.name, err)
		}
		if got := tc.TimestampStep(); got != tt.want {
			t.Errorf("%s TimestampStep = %d, want %d", tt.name, got, tt.want)
		}
	}
}
