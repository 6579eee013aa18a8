package mock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/pttlink/pkg/audio"
	"github.com/MrWong99/pttlink/pkg/audio/mock"
)

func TestCapture_ScriptedThenSilence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dev := mock.New(mock.WithFrames([]byte{1, 2, 3, 4}))

	c, err := dev.OpenCapture(ctx, audio.LinkFormat, 4)
	if err != nil {
		t.Fatalf("OpenCapture: %v", err)
	}
	defer c.Close()

	first, err := c.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if len(first) != 8 {
		t.Fatalf("frame length = %d, want 8", len(first))
	}
	if first[0] != 1 || first[3] != 4 || first[4] != 0 {
		t.Errorf("scripted frame = % x, want 01 02 03 04 padded with zeros", first)
	}

	second, err := c.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	for i, b := range second {
		if b != 0 {
			t.Fatalf("byte %d = %d, want silence", i, b)
		}
	}
	if got := dev.FramesRead(); got != 2 {
		t.Errorf("FramesRead = %d, want 2", got)
	}
}

func TestCapture_SineWave(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dev := mock.New(mock.WithSineWave(440, 0.5))

	c, err := dev.OpenCapture(ctx, audio.LinkFormat, 160)
	if err != nil {
		t.Fatalf("OpenCapture: %v", err)
	}
	defer c.Close()

	frame, err := c.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	var peak int16
	for _, s := range audio.BytesToSamples(frame) {
		peak = max(peak, s)
	}
	if peak < 10000 || peak > 16384 {
		t.Errorf("peak = %d, want roughly half scale", peak)
	}
}

func TestCapture_Exclusive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dev := mock.New()

	c, err := dev.OpenCapture(ctx, audio.LinkFormat, 16)
	if err != nil {
		t.Fatalf("OpenCapture: %v", err)
	}
	if _, err := dev.OpenCapture(ctx, audio.LinkFormat, 16); !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("second OpenCapture err = %v, want ErrDeviceUnavailable", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if dev.CaptureHeld() {
		t.Fatal("capture still held after Close")
	}
	c2, err := dev.OpenCapture(ctx, audio.LinkFormat, 16)
	if err != nil {
		t.Fatalf("re-open after Close: %v", err)
	}
	c2.Close()

	st := dev.Stats()
	if st.CaptureOpens != 2 || st.CaptureCloses != 2 {
		t.Errorf("stats = %+v, want 2 opens and 2 closes", st)
	}
}

func TestCapture_FailAfter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dev := mock.New()
	dev.SetFailCaptureAfter(2)

	c, err := dev.OpenCapture(ctx, audio.LinkFormat, 16)
	if err != nil {
		t.Fatalf("OpenCapture: %v", err)
	}
	defer c.Close()

	for i := range 2 {
		if _, err := c.ReadFrame(ctx); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
	if _, err := c.ReadFrame(ctx); !errors.Is(err, audio.ErrCapture) {
		t.Fatalf("err = %v, want ErrCapture", err)
	}
}

func TestCapture_PacingHonoursContext(t *testing.T) {
	t.Parallel()
	dev := mock.New(mock.WithFrameInterval(time.Hour))

	c, err := dev.OpenCapture(context.Background(), audio.LinkFormat, 16)
	if err != nil {
		t.Fatalf("OpenCapture: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.ReadFrame(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dev := mock.New()
	dev.SetOpenCaptureError(errors.New("no microphone"))
	dev.SetOpenPlaybackError(errors.New("no speaker"))

	if _, err := dev.OpenCapture(ctx, audio.LinkFormat, 16); !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Errorf("OpenCapture err = %v, want ErrDeviceUnavailable", err)
	}
	if _, err := dev.OpenPlayback(ctx, audio.LinkFormat); !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Errorf("OpenPlayback err = %v, want ErrDeviceUnavailable", err)
	}
}

func TestPlayback_RecordsWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dev := mock.New()

	p, err := dev.OpenPlayback(ctx, audio.LinkFormat)
	if err != nil {
		t.Fatalf("OpenPlayback: %v", err)
	}
	buf := []byte{1, 2, 3, 4}
	if err := p.Write(ctx, buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf[0] = 9 // the mock must have copied the payload

	got := dev.Written()
	if len(got) != 1 || got[0][0] != 1 {
		t.Fatalf("Written = %v, want one copy of the payload", got)
	}
	if dev.WrittenBytes() != 4 {
		t.Errorf("WrittenBytes = %d, want 4", dev.WrittenBytes())
	}

	p.Close()
	if err := p.Write(ctx, buf); !errors.Is(err, audio.ErrPlayback) {
		t.Errorf("Write after Close err = %v, want ErrPlayback", err)
	}
}

func TestPlayback_InjectedError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dev := mock.New()

	p, err := dev.OpenPlayback(ctx, audio.LinkFormat)
	if err != nil {
		t.Fatalf("OpenPlayback: %v", err)
	}
	defer p.Close()

	// The error applies to a stream that is already open and can be cleared.
	dev.SetPlaybackError(errors.New("unplugged"))
	if err := p.Write(ctx, []byte{0, 0}); !errors.Is(err, audio.ErrPlayback) {
		t.Fatalf("err = %v, want ErrPlayback", err)
	}
	dev.SetPlaybackError(nil)
	if err := p.Write(ctx, []byte{0, 0}); err != nil {
		t.Fatalf("Write after clearing the error: %v", err)
	}
	if len(dev.Written()) != 1 {
		t.Errorf("Written = %d payloads, want 1", len(dev.Written()))
	}
}

func TestPlayback_ErrorToggledWhileWriting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dev := mock.New()

	p, err := dev.OpenPlayback(ctx, audio.LinkFormat)
	if err != nil {
		t.Fatalf("OpenPlayback: %v", err)
	}
	defer p.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 200 {
			_ = p.Write(ctx, []byte{0, 0})
		}
	}()
	for i := range 200 {
		if i%2 == 0 {
			dev.SetPlaybackError(errors.New("unplugged"))
		} else {
			dev.SetPlaybackError(nil)
		}
	}
	<-done

	dev.SetPlaybackError(nil)
	if err := p.Write(ctx, []byte{0, 0}); err != nil {
		t.Fatalf("Write after toggling: %v", err)
	}
}

func TestCapture_FailLimitTakenAtOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dev := mock.New()
	dev.SetFailCaptureAfter(1)

	c, err := dev.OpenCapture(ctx, audio.LinkFormat, 16)
	if err != nil {
		t.Fatalf("OpenCapture: %v", err)
	}
	defer c.Close()

	// Changing the limit does not affect a stream that is already open.
	dev.SetFailCaptureAfter(0)
	if _, err := c.ReadFrame(ctx); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if _, err := c.ReadFrame(ctx); !errors.Is(err, audio.ErrCapture) {
		t.Fatalf("second frame err = %v, want ErrCapture", err)
	}
}
