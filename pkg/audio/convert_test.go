package audio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/pttlink/pkg/audio"
)

func TestSamplesRoundTrip(t *testing.T) {
	t.Parallel()
	samples := []int16{0, 1, -1, 32767, -32768, 1234}
	pcm := audio.SamplesToBytes(samples)
	if len(pcm) != len(samples)*2 {
		t.Fatalf("len(pcm) = %d, want %d", len(pcm), len(samples)*2)
	}
	// Little-endian: -1 is 0xFF 0xFF, 1 is 0x01 0x00.
	if pcm[2] != 0x01 || pcm[3] != 0x00 {
		t.Errorf("sample 1 encoded as % x, want 01 00", pcm[2:4])
	}
	got := audio.BytesToSamples(pcm)
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestBytesToSamples_OddLength(t *testing.T) {
	t.Parallel()
	got := audio.BytesToSamples([]byte{0x10, 0x00, 0x20})
	if len(got) != 1 || got[0] != 0x10 {
		t.Fatalf("got %v, want [16]", got)
	}
}

func TestDecodeInto_ClampsToDestination(t *testing.T) {
	t.Parallel()
	dst := make([]int16, 2)
	n := audio.DecodeInto(dst, audio.SamplesToBytes([]int16{7, 8, 9}))
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
	if dst[0] != 7 || dst[1] != 8 {
		t.Errorf("dst = %v, want [7 8]", dst)
	}
}

func TestEncodeInto_ClampsToDestination(t *testing.T) {
	t.Parallel()
	dst := make([]byte, 3)
	n := audio.EncodeInto(dst, []int16{1, 2})
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
}

func TestAligner(t *testing.T) {
	t.Parallel()
	var a audio.Aligner
	if got := a.Align([]byte{1, 2, 3}); len(got) != 2 {
		t.Errorf("odd payload: len = %d, want 2", len(got))
	}
	even := []byte{1, 2, 3, 4}
	if got := a.Align(even); &got[0] != &even[0] || len(got) != 4 {
		t.Error("even payload should be returned unchanged")
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()
	f := audio.LinkFormat
	if got := f.FrameBytes(audio.DefaultChunkSamples); got != 2048 {
		t.Errorf("FrameBytes = %d, want 2048", got)
	}
	if got := f.Duration(1024); got != 32*time.Millisecond {
		t.Errorf("Duration(1024) = %v, want 32ms", got)
	}
	if got := f.String(); got != "16000Hz mono" {
		t.Errorf("String = %q", got)
	}
	if err := (audio.Format{}).Validate(); err == nil {
		t.Error("zero format should not validate")
	}
	if err := f.Validate(); err != nil {
		t.Errorf("LinkFormat.Validate: %v", err)
	}
}

func TestLease(t *testing.T) {
	t.Parallel()
	var l audio.Lease
	if err := l.Acquire(audio.DirCapture); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := l.Acquire(audio.DirCapture); err == nil {
		t.Fatal("second capture acquire should fail")
	}
	if err := l.Acquire(audio.DirPlayback); err != nil {
		t.Fatalf("playback acquire: %v", err)
	}
	l.Release(audio.DirCapture)
	if l.Held(audio.DirCapture) {
		t.Error("capture still held after release")
	}
	if err := l.Acquire(audio.DirCapture); err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
}
