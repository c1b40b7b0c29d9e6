package textwake_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	audiomock "github.com/urecho/urecho/pkg/audio/mock"
	"github.com/urecho/urecho/pkg/provider/asr"
	asrmock "github.com/urecho/urecho/pkg/provider/asr/mock"
	"github.com/urecho/urecho/pkg/provider/wake/textwake"
)

var errFake = errors.New("fake failure")

func bilingualPhrases() []textwake.Phrase {
	return []textwake.Phrase{
		{Text: "hello robot", Lang: "en"},
		{Text: "salut robot", Lang: "ro"},
	}
}

// feedFrames pushes n frames from a goroutine so the engine can consume
// them while they arrive. The returned WaitGroup is done once every frame
// has been delivered.
func feedFrames(capture *audiomock.Capture, n, samplesPerFrame int) *sync.WaitGroup {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]int16, samplesPerFrame)
		for i := 0; i < n; i++ {
			capture.Feed(buf)
		}
	}()
	return &wg
}

func TestWaitForAny_MatchesTranscribedPhrase(t *testing.T) {
	t.Parallel()

	capture := audiomock.NewCapture(16000, 20)
	tr := &asrmock.Transcriber{Results: []asr.Result{
		{Text: "Hello, robot!", Lang: "en", Confidence: 0.8},
	}}
	e, err := textwake.New(context.Background(), capture, tr, textwake.Config{
		Phrases:      bilingualPhrases(),
		MaxUtterance: 200 * time.Millisecond,
		MinUtterance: 40 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// 200ms at 20ms blocks is 10 frames; the extra 8 fit the queue so the
	// feeder never blocks.
	wg := feedFrames(capture, 18, 320)
	hit, err := e.WaitForAny(context.Background(), 2*time.Second)
	wg.Wait()
	if err != nil {
		t.Fatalf("WaitForAny: %v", err)
	}
	if hit == nil {
		t.Fatal("want a hit, got none")
	}
	if hit.Keyword != "hello robot" || hit.Lang != "en" || hit.Engine != "textwake" {
		t.Fatalf("unexpected hit: %+v", hit)
	}
	if hit.Score != 1 {
		t.Fatalf("want score 1, got %v", hit.Score)
	}

	if len(tr.Calls) != 1 {
		t.Fatalf("want 1 transcription, got %d", len(tr.Calls))
	}
	call := tr.Calls[0]
	if call.Bilingual || call.LangHint != "en" {
		t.Fatalf("want single-language call with hint en, got %+v", call)
	}
	if len(call.PCM) != 3200 {
		t.Fatalf("want 3200 samples captured, got %d", len(call.PCM))
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestWaitForAny_ShortCaptureSkipsTranscription(t *testing.T) {
	t.Parallel()

	capture := audiomock.NewCapture(16000, 20)
	tr := &asrmock.Transcriber{}
	e, err := textwake.New(context.Background(), capture, tr, textwake.Config{
		Phrases: bilingualPhrases(),
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	hit, err := e.WaitForAny(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForAny: %v", err)
	}
	if hit != nil {
		t.Fatalf("want no hit from silence, got %+v", hit)
	}
	if len(tr.Calls) != 0 {
		t.Fatalf("transcriber called %d times on a short capture", len(tr.Calls))
	}
}

func TestWaitForAny_TranscriptionFailureIsQuiet(t *testing.T) {
	t.Parallel()

	capture := audiomock.NewCapture(16000, 20)
	tr := &asrmock.Transcriber{Err: errFake}
	e, err := textwake.New(context.Background(), capture, tr, textwake.Config{
		Phrases:      bilingualPhrases(),
		MaxUtterance: 200 * time.Millisecond,
		MinUtterance: 40 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	wg := feedFrames(capture, 18, 320)
	hit, err := e.WaitForAny(context.Background(), 2*time.Second)
	wg.Wait()
	if err != nil {
		t.Fatalf("want transcription failure swallowed, got %v", err)
	}
	if hit != nil {
		t.Fatalf("want no hit, got %+v", hit)
	}
	if len(tr.Calls) != 1 {
		t.Fatalf("want 1 transcription attempt, got %d", len(tr.Calls))
	}
}

func TestWaitForAny_AutoHintScoresBothLanguages(t *testing.T) {
	t.Parallel()

	capture := audiomock.NewCapture(16000, 20)
	tr := &asrmock.Transcriber{Results: []asr.Result{
		{Text: "salut robot", Lang: "ro", Confidence: 0.7},
	}}
	e, err := textwake.New(context.Background(), capture, tr, textwake.Config{
		Phrases:      bilingualPhrases(),
		LangHint:     "auto",
		MaxUtterance: 200 * time.Millisecond,
		MinUtterance: 40 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	wg := feedFrames(capture, 18, 320)
	hit, err := e.WaitForAny(context.Background(), 2*time.Second)
	wg.Wait()
	if err != nil {
		t.Fatalf("WaitForAny: %v", err)
	}
	if hit == nil || hit.Keyword != "salut robot" || hit.Lang != "ro" {
		t.Fatalf("unexpected hit: %+v", hit)
	}
	if len(tr.Calls) != 1 || !tr.Calls[0].Bilingual {
		t.Fatalf("want one bilingual call, got %+v", tr.Calls)
	}
}

func TestMatch(t *testing.T) {
	t.Parallel()

	capture := audiomock.NewCapture(16000, 20)
	e, err := textwake.New(context.Background(), capture, &asrmock.Transcriber{}, textwake.Config{
		Phrases: bilingualPhrases(),
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	tests := []struct {
		name string
		text string
		want string
		lang string
	}{
		{name: "exact", text: "hello robot", want: "hello robot", lang: "en"},
		{name: "punctuation and case", text: "Hello, robot!", want: "hello robot", lang: "en"},
		{name: "embedded in longer utterance", text: "um hello robot please", want: "hello robot", lang: "en"},
		{name: "second phrase", text: "salut robot", want: "salut robot", lang: "ro"},
		{name: "no match", text: "goodbye", want: ""},
		{name: "empty", text: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hit := e.Match(tt.text)
			if tt.want == "" {
				if hit != nil {
					t.Fatalf("want no hit, got %+v", hit)
				}
				return
			}
			if hit == nil {
				t.Fatalf("want hit on %q, got none", tt.want)
			}
			if hit.Keyword != tt.want || hit.Lang != tt.lang {
				t.Fatalf("want %q (%s), got %q (%s)", tt.want, tt.lang, hit.Keyword, hit.Lang)
			}
		})
	}
}

func TestMatch_TieKeepsFirstPhrase(t *testing.T) {
	t.Parallel()

	capture := audiomock.NewCapture(16000, 20)
	e, err := textwake.New(context.Background(), capture, &asrmock.Transcriber{}, textwake.Config{
		Phrases: []textwake.Phrase{
			{Text: "hello robot", Lang: "en"},
			{Text: "hello robot", Lang: "ro"},
		},
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	hit := e.Match("hello robot")
	if hit == nil || hit.Lang != "en" {
		t.Fatalf("want the first configured phrase to win the tie, got %+v", hit)
	}
}

func TestScores_KeyedByRawPhrase(t *testing.T) {
	t.Parallel()

	capture := audiomock.NewCapture(16000, 20)
	e, err := textwake.New(context.Background(), capture, &asrmock.Transcriber{}, textwake.Config{
		Phrases: bilingualPhrases(),
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	scores := e.Scores("hello robot")
	if len(scores) != 2 {
		t.Fatalf("want 2 scores, got %d", len(scores))
	}
	if scores["hello robot"] != 100 {
		t.Fatalf("want a perfect score for the matching phrase, got %d", scores["hello robot"])
	}
	if _, ok := scores["salut robot"]; !ok {
		t.Fatal("want the non-matching phrase scored too")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	capture := audiomock.NewCapture(16000, 20)
	if _, err := textwake.New(context.Background(), capture, nil, textwake.Config{
		Phrases: bilingualPhrases(),
	}, nil); err == nil {
		t.Fatal("New succeeded without a transcriber")
	}
	if _, err := textwake.New(context.Background(), capture, &asrmock.Transcriber{}, textwake.Config{}, nil); err == nil {
		t.Fatal("New succeeded without phrases")
	}
}
