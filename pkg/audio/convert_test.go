package audio_test

import (
	"testing"

	"github.com/urecho/urecho/pkg/audio"
)

func TestBytesInt16RoundTrip(t *testing.T) {
	t.Parallel()

	samples := []int16{0, 100, -100, 32767, -32768}
	got := audio.BytesToInt16(audio.Int16ToBytes(samples))
	if len(got) != len(samples) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestBytesToInt16_OddTrailingByte(t *testing.T) {
	t.Parallel()

	got := audio.BytesToInt16([]byte{0x01, 0x02, 0x03})
	if len(got) != 1 {
		t.Fatalf("want 1 sample, got %d", len(got))
	}
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()

	got := audio.StereoToMono([]int16{100, 200, -100, -200})
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono_Clamping(t *testing.T) {
	t.Parallel()

	got := audio.StereoToMono([]int16{32767, 32767})
	if len(got) != 1 || got[0] != 32767 {
		t.Fatalf("want [32767], got %v", got)
	}
}

func TestFloat32Int16RoundTrip_Clamping(t *testing.T) {
	t.Parallel()

	got := audio.Float32ToInt16([]float32{0, 0.5, -0.5, 1.5, -1.5})
	want := []int16{0, 16384, -16384, 32767, -32768}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleMono16_SameRate(t *testing.T) {
	t.Parallel()

	in := []int16{100, 200, 300}
	out := audio.ResampleMono16(in, 48000, 48000)
	if len(out) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(in))
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	t.Parallel()

	// 48k → 16k keeps one of every three samples.
	in := make([]int16, 480)
	for i := range in {
		in[i] = int16(i)
	}
	out := audio.ResampleMono16(in, 48000, 16000)
	if len(out) != 160 {
		t.Fatalf("want 160 samples, got %d", len(out))
	}
	if out[0] != 0 {
		t.Errorf("first sample: got %d, want 0", out[0])
	}
}

func TestFrameDuration(t *testing.T) {
	t.Parallel()

	f := audio.Frame{Samples: make([]int16, 320), SampleRate: 16000}
	if got := f.Duration().Milliseconds(); got != 20 {
		t.Fatalf("want 20ms, got %dms", got)
	}
}

func TestOfferLatest_DropsOldest(t *testing.T) {
	t.Parallel()

	ch := make(chan int, 2)
	for _, v := range []int{1, 2, 3} {
		if !audio.OfferLatest(ch, v) {
			t.Fatalf("offer of %d failed", v)
		}
	}
	if got := <-ch; got != 2 {
		t.Fatalf("oldest surviving value: got %d, want 2", got)
	}
	if got := <-ch; got != 3 {
		t.Fatalf("newest value: got %d, want 3", got)
	}
}
