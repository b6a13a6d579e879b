package audio

import (
	"bytes"
	"math"
	"testing"
)

func TestSamplesPerFrame(t *testing.T) {
	tests := []struct {
		rate int
		want int
	}{
		{RateTelephony, 160},
		{RateAIIn, 320},
		{RateAIOut, 480},
		{RateBridge, 960},
	}
	for _, tt := range tests {
		if got := SamplesPerFrame(tt.rate); got != tt.want {
			t.Errorf("SamplesPerFrame(%d) = %d, want %d", tt.rate, got, tt.want)
		}
	}
}

func TestResampleSameRate(t *testing.T) {
	in := []int16{1, 2, 3, 4}
	out := Resample(in, RateAIIn, RateAIIn)
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	out[0] = 99
	if in[0] != 1 {
		t.Error("Resample with equal rates must copy, not alias")
	}
}

func TestResampleLength(t *testing.T) {
	tests := []struct {
		from, to int
		inLen    int
		wantLen  int
	}{
		{RateBridge, RateAIIn, 960, 320},
		{RateAIOut, RateBridge, 480, 960},
		{RateTelephony, RateBridge, 160, 960},
		{RateBridge, RateTelephony, 960, 160},
	}
	for _, tt := range tests {
		in := make([]int16, tt.inLen)
		out := Resample(in, tt.from, tt.to)
		if len(out) != tt.wantLen {
			t.Errorf("Resample %d->%d of %d samples: len = %d, want %d",
				tt.from, tt.to, tt.inLen, len(out), tt.wantLen)
		}
	}
}

func TestResampleSilenceStaysSilent(t *testing.T) {
	in := Silence(RateBridge, 100)
	out := Resample(in, RateBridge, RateAIIn)
	for i, s := range out {
		if s != 0 {
			t.Fatalf("sample %d = %d, want 0", i, s)
		}
	}
}

// A 1 kHz sine round-tripped 48k -> 16k -> 48k should keep its peak
// amplitude within 3 dB.
func TestResampleRoundTripSine(t *testing.T) {
	const freq = 1000.0
	in := make([]int16, RateBridge/10) // 100 ms
	for i := range in {
		in[i] = int16(16000 * math.Sin(2*math.Pi*freq*float64(i)/RateBridge))
	}

	down := Resample(in, RateBridge, RateAIIn)
	up := Resample(down, RateAIIn, RateBridge)

	peak := func(s []int16) float64 {
		var p float64
		for _, v := range s {
			if a := math.Abs(float64(v)); a > p {
				p = a
			}
		}
		return p
	}

	inPeak := peak(in)
	outPeak := peak(up)
	ratioDB := 20 * math.Log10(outPeak/inPeak)
	if math.Abs(ratioDB) > 3 {
		t.Errorf("round trip peak changed by %.2f dB (in %.0f, out %.0f)", ratioDB, inPeak, outPeak)
	}
}

func TestReframerLengthPreserving(t *testing.T) {
	r := NewReframer(10)

	var emitted []byte
	input := make([]byte, 0, 57)
	for i := 0; i < 57; i++ {
		input = append(input, byte(i))
	}

	// Push in uneven chunks.
	for _, chunk := range [][]byte{input[:3], input[3:17], input[17:40], input[40:]} {
		for _, f := range r.Push(chunk) {
			if len(f) != 10 {
				t.Fatalf("frame len = %d, want 10", len(f))
			}
			emitted = append(emitted, f...)
		}
	}

	reassembled := append(emitted, r.Tail()...)
	if !bytes.Equal(reassembled, input) {
		t.Errorf("frames + tail != input (got %d bytes, want %d)", len(reassembled), len(input))
	}
	if len(r.Tail()) != 57%10 {
		t.Errorf("tail len = %d, want %d", len(r.Tail()), 57%10)
	}
}

func TestReframerReset(t *testing.T) {
	r := NewReframer(10)
	r.Push([]byte{1, 2, 3})
	r.Reset()
	if len(r.Tail()) != 0 {
		t.Errorf("tail after reset = %d bytes, want 0", len(r.Tail()))
	}
}

func TestPCMBytesRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768, 12345}
	out := BytesToPCM(PCMToBytes(in))
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d = %d, want %d", i, out[i], in[i])
		}
	}
}

func TestToneAmplitudeAndLength(t *testing.T) {
	samples := Tone(800, 150, RateBridge, 0.3)
	wantLen := RateBridge * 150 / 1000
	if len(samples) != wantLen {
		t.Fatalf("len = %d, want %d", len(samples), wantLen)
	}

	wantPeak := 0.3 * 32767
	var peak float64
	for _, s := range samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	if peak > wantPeak+1 {
		t.Errorf("peak = %.0f, want <= %.0f", peak, wantPeak)
	}
	if peak < wantPeak*0.9 {
		t.Errorf("peak = %.0f, want >= %.0f", peak, wantPeak*0.9)
	}

	// Fade-in: the very first samples should be near zero.
	if math.Abs(float64(samples[0])) > 100 {
		t.Errorf("first sample = %d, want near 0 (fade-in)", samples[0])
	}
	if math.Abs(float64(samples[len(samples)-1])) > 100 {
		t.Errorf("last sample = %d, want near 0 (fade-out)", samples[len(samples)-1])
	}
}

func TestBeepCached(t *testing.T) {
	a := Beep()
	b := Beep()
	if &a[0] != &b[0] {
		t.Error("Beep() should return the same cached buffer")
	}
	if len(a) != RateBridge*150/1000 {
		t.Errorf("beep len = %d, want %d", len(a), RateBridge*150/1000)
	}
}

func TestSilence(t *testing.T) {
	s := Silence(RateAIIn, 20)
	if len(s) != 320 {
		t.Fatalf("len = %d, want 320", len(s))
	}
	for _, v := range s {
		if v != 0 {
			t.Fatal("silence must be all zeros")
		}
	}
}
