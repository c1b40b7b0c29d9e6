package barge_test

import (
	"context"
	"testing"
	"time"

	"github.com/urecho/urecho/internal/barge"
	"github.com/urecho/urecho/internal/spot"
	audiomock "github.com/urecho/urecho/pkg/audio/mock"
	"github.com/urecho/urecho/pkg/provider/vad"
	vadmock "github.com/urecho/urecho/pkg/provider/vad/mock"
)

// scriptSpotter fires a fixed hit on its nth processed block.
type scriptSpotter struct {
	hitOn  int
	calls  int
	resets int
}

func (s *scriptSpotter) ProcessBlock([]int16) (spot.Hit, bool) {
	s.calls++
	if s.hitOn > 0 && s.calls == s.hitOn {
		return spot.Hit{Keyword: "stop", Score: 0.93}, true
	}
	return spot.Hit{}, false
}

func (s *scriptSpotter) Reset()       { s.resets++ }
func (s *scriptSpotter) Close() error { return nil }

func TestListener_SustainedVoiceRaisesOneEvent(t *testing.T) {
	t.Parallel()

	capture := audiomock.NewCapture(16000, 20)
	eng := &vadmock.Engine{Session: &vadmock.Session{
		Default: vad.Event{Type: vad.SpeechContinue, Probability: 0.9},
	}}
	l, err := barge.NewListener(context.Background(), capture, eng, barge.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}

	// Two seconds of room silence, then one second of voice-like tone.
	silence := make([]int16, 320)
	for i := 0; i < 100; i++ {
		capture.Feed(silence)
	}
	gen := &toneGen{freq: 1200, rmsDBFS: -20, sampleRate: 16000, blockMs: 20}
	for i := 0; i < 50; i++ {
		capture.Feed(gen.frame().Samples)
	}
	capture.CloseFeed()
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case ev := <-l.Events():
		if ev.Stop() {
			t.Fatalf("sustained voice produced a stop event: %+v", ev)
		}
		// Credit reaches 650 ms on the 33rd voiced frame after the tone
		// starts at 2 s.
		if want := 2640 * time.Millisecond; ev.At != want {
			t.Fatalf("event at %s, want %s", ev.At, want)
		}
	default:
		t.Fatal("no event after one second of voice over playback")
	}
	select {
	case ev := <-l.Events():
		t.Fatalf("second event %+v from a single interruption", ev)
	default:
	}
}

func TestListener_SpotterHitRaisesStopEvent(t *testing.T) {
	t.Parallel()

	capture := audiomock.NewCapture(16000, 20)
	sp := &scriptSpotter{hitOn: 5}
	l, err := barge.NewListener(context.Background(), capture, nil, barge.DefaultConfig(), nil,
		barge.WithSpotters(sp))
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	if sp.resets != 1 {
		t.Fatalf("spotter reset %d times at start of turn, want 1", sp.resets)
	}

	// 33 frames: 20 inside the arm window, then the spotter hits on its 5th
	// block, opening a 150 ms debounce that swallows the next 7 frames.
	for i := 0; i < 33; i++ {
		capture.Feed(make([]int16, 320))
	}
	capture.CloseFeed()
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	speaking := l.UserIsSpeaking()

	select {
	case ev := <-l.Events():
		if !ev.Stop() {
			t.Fatalf("spotter hit did not produce a stop event: %+v", ev)
		}
		if ev.Keyword != "stop" || ev.Score != 0.93 {
			t.Fatalf("event = %+v, want keyword %q score 0.93", ev, "stop")
		}
		if want := 480 * time.Millisecond; ev.At != want {
			t.Fatalf("event at %s, want %s", ev.At, want)
		}
	default:
		t.Fatal("no event from a spotter hit")
	}

	if sp.calls != 6 {
		t.Fatalf("spotter saw %d blocks, want 6 (arm window and debounce skipped)", sp.calls)
	}
	if !speaking {
		t.Fatal("UserIsSpeaking() = false right after a spotter hit")
	}
}

func TestListener_VADSessionFailureAborts(t *testing.T) {
	t.Parallel()

	capture := audiomock.NewCapture(16000, 20)
	eng := &vadmock.Engine{NewSessionErr: errFake}
	if _, err := barge.NewListener(context.Background(), capture, eng, barge.DefaultConfig(), nil); err == nil {
		t.Fatal("NewListener succeeded with a failing VAD engine")
	}
	if n := len(capture.OpenCalls); n != 0 {
		t.Fatalf("capture opened %d times despite VAD failure, want 0", n)
	}
}

func TestListener_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	capture := audiomock.NewCapture(16000, 20)
	l, err := barge.NewListener(context.Background(), capture, nil, barge.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
