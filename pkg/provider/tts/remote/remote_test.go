package remote

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/urecho/urecho/pkg/audio"
	audiomock "github.com/urecho/urecho/pkg/audio/mock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// synthServer fakes the synthesis endpoint: it echoes the request text back
// as WAV-wrapped "PCM" so spoken text round-trips into the player.
type synthServer struct {
	mu       sync.Mutex
	requests []ttsRequest
	status   int
	rate     int
}

func (s *synthServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != synthEndpoint {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req ttsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		status, rate := s.status, s.rate
		s.mu.Unlock()

		if status != 0 && status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		if rate == 0 {
			rate = 22050
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(audio.EncodeWAV(audio.BytesToInt16([]byte(req.Text)), rate))
	}
}

func (s *synthServer) got() []ttsRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ttsRequest(nil), s.requests...)
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("empty url", func(t *testing.T) {
		t.Parallel()
		if _, err := New("", &audiomock.Player{}, discardLogger()); err == nil {
			t.Fatal("want error, got nil")
		}
	})

	t.Run("nil player", func(t *testing.T) {
		t.Parallel()
		if _, err := New("http://localhost:5500", nil, discardLogger()); err == nil {
			t.Fatal("want error, got nil")
		}
	})

	t.Run("trims trailing slash", func(t *testing.T) {
		t.Parallel()
		e, err := New("http://localhost:5500/", &audiomock.Player{}, discardLogger())
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if e.serverURL != "http://localhost:5500" {
			t.Fatalf("serverURL = %q, want trailing slash stripped", e.serverURL)
		}
	})

	t.Run("timeout option", func(t *testing.T) {
		t.Parallel()
		e, err := New("http://localhost:5500", &audiomock.Player{}, discardLogger(), WithTimeout(5*time.Second))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if e.httpClient.Timeout != 5*time.Second {
			t.Fatalf("timeout = %v, want 5s", e.httpClient.Timeout)
		}
	})
}

func TestSay_PostsTextAndPlaysReply(t *testing.T) {
	t.Parallel()

	fake := &synthServer{rate: 16000}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	player := &audiomock.Player{}
	e, err := New(srv.URL, player, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := e.Say(context.Background(), "Salut acolo.", "ro"); err != nil {
		t.Fatalf("Say: %v", err)
	}

	reqs := fake.got()
	if len(reqs) != 1 {
		t.Fatalf("want 1 request, got %d", len(reqs))
	}
	if reqs[0].Text != "Salut acolo." || reqs[0].Lang != "ro" {
		t.Fatalf("want {Salut acolo. ro}, got %+v", reqs[0])
	}

	if len(player.PlayCalls) != 1 {
		t.Fatalf("want 1 play, got %d", len(player.PlayCalls))
	}
	call := player.PlayCalls[0]
	if call.SampleRate != 16000 {
		t.Fatalf("want rate 16000, got %d", call.SampleRate)
	}
	if got := string(audio.Int16ToBytes(call.PCM)); got != "Salut acolo." {
		t.Fatalf("want text round-trip, got %q", got)
	}
}

func TestSay_ServerErrorSurfaces(t *testing.T) {
	t.Parallel()

	fake := &synthServer{status: http.StatusInternalServerError}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	player := &audiomock.Player{}
	e, err := New(srv.URL, player, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = e.Say(context.Background(), "Hello.", "en")
	if err == nil {
		t.Fatal("want error, got nil")
	}
	if !strings.Contains(err.Error(), "status 500") {
		t.Fatalf("want status in error, got %v", err)
	}
	if len(player.PlayCalls) != 0 {
		t.Fatalf("want no plays, got %d", len(player.PlayCalls))
	}
}

func TestSay_MalformedWAVSurfaces(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Write([]byte("not a wav"))
	}))
	defer srv.Close()

	e, err := New(srv.URL, &audiomock.Player{}, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := e.Say(context.Background(), "Hello.", "en"); err == nil {
		t.Fatal("want error, got nil")
	}
}

func TestSayStream_PlaysChunksInOrder(t *testing.T) {
	t.Parallel()

	fake := &synthServer{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	player := &audiomock.Player{}
	e, err := New(srv.URL, player, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	chunks := make(chan string, 2)
	chunks <- "Hello there."
	chunks <- "Bye."
	close(chunks)

	var firsts int
	done := make(chan struct{})
	if err := e.SayStream(context.Background(), chunks, "en", func() { firsts++ }, func() { close(done) }); err != nil {
		t.Fatalf("SayStream: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream never finished")
	}

	if firsts != 1 {
		t.Fatalf("want onFirstSpeak once, got %d", firsts)
	}
	want := []string{"Hello there.", "Bye."}
	if len(player.PlayCalls) != len(want) {
		t.Fatalf("want %d plays, got %d", len(want), len(player.PlayCalls))
	}
	for i, w := range want {
		if got := string(audio.Int16ToBytes(player.PlayCalls[i].PCM)); got != w {
			t.Fatalf("chunk %d: want %q, got %q", i, w, got)
		}
	}
	if e.IsSpeaking() {
		t.Fatal("still speaking after stream drained")
	}
}

func TestSayCached_AlwaysMisses(t *testing.T) {
	t.Parallel()

	e, err := New("http://localhost:5500", &audiomock.Player{}, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.SayCached(context.Background(), "ack_en", "en") {
		t.Fatal("remote backend must never report a cache hit")
	}
}
