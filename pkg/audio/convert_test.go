package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/voxwire/voxbridge/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestFloatToPCM16(t *testing.T) {
	got := bytesToSamples(audio.FloatToPCM16([]float32{0, 0.5, -0.5, 1, -1}))
	want := []int16{0, 16383, -16384, 32767, -32768}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFloatToPCM16_Clamping(t *testing.T) {
	got := bytesToSamples(audio.FloatToPCM16([]float32{2.5, -3.0}))
	want := []int16{32767, -32768}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPCM16ToFloat_Roundtrip(t *testing.T) {
	in := []float32{0, 0.25, -0.25, 0.99, -0.99}
	out := audio.PCM16ToFloat(audio.FloatToPCM16(in))
	if len(out) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(in))
	}
	for i := range in {
		diff := out[i] - in[i]
		if diff < 0 {
			diff = -diff
		}
		if diff > 2.0/32768 {
			t.Errorf("sample %d: got %f, want %f within two quantisation steps", i, out[i], in[i])
		}
	}
}

func TestPCM16ToFloat_OddByteCount(t *testing.T) {
	// The trailing odd byte is ignored rather than producing a bogus sample.
	in := append(samplesToBytes([]int16{1000}), 0x7f)
	out := audio.PCM16ToFloat(in)
	if len(out) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(out))
	}
}

func TestResampleMono16_SameRate(t *testing.T) {
	in := samplesToBytes([]int16{1, 2, 3, 4})
	out := audio.ResampleMono16(in, 16000, 16000)
	got := bytesToSamples(out)
	want := []int16{1, 2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleMono16_Upsample(t *testing.T) {
	in := samplesToBytes([]int16{0, 100})
	out := audio.ResampleMono16(in, 8000, 16000)
	got := bytesToSamples(out)
	if len(got) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(got))
	}
	// Linear interpolation must stay within the input range.
	for i, s := range got {
		if s < 0 || s > 100 {
			t.Errorf("sample %d out of range: %d", i, s)
		}
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	in := samplesToBytes([]int16{0, 25, 50, 75, 100, 125})
	out := audio.ResampleMono16(in, 48000, 16000)
	got := bytesToSamples(out)
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
}

func TestResampleMono16_ZeroRate(t *testing.T) {
	// Nonsensical rates leave the input untouched instead of corrupting it.
	in := samplesToBytes([]int16{1, 2})
	if out := audio.ResampleMono16(in, 0, 16000); len(out) != len(in) {
		t.Errorf("zero source rate: got %d bytes, want input unchanged", len(out))
	}
	if out := audio.ResampleMono16(in, 16000, 0); len(out) != len(in) {
		t.Errorf("zero destination rate: got %d bytes, want input unchanged", len(out))
	}
}

func TestFrameSamples(t *testing.T) {
	if got := audio.FrameSamples(20*1e6, 16000); got != 320 {
		t.Errorf("20ms at 16kHz: got %d samples, want 320", got)
	}
	if got := audio.FrameSamples(10*1e6, 24000); got != 240 {
		t.Errorf("10ms at 24kHz: got %d samples, want 240", got)
	}
}
