package whisper_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/urecho/urecho/pkg/audio"
	"github.com/urecho/urecho/pkg/provider/asr/whisper"
)

// makeSpeech generates a 440 Hz sine whose RMS sits far above the silence
// gate.
func makeSpeech(samples int) []int16 {
	pcm := make([]int16, samples)
	for i := range pcm {
		pcm[i] = int16(10000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return pcm
}

// paddedUtterance surrounds 200 ms of speech with half a second of silence
// on each side.
func paddedUtterance() []int16 {
	pcm := make([]int16, 8000+3200+8000)
	copy(pcm[8000:], makeSpeech(3200))
	return pcm
}

// verboseJSON renders a whisper-server verbose_json reply with one segment
// per log probability.
func verboseJSON(text, lang string, segLPs ...float64) string {
	type segment struct {
		Text       string  `json:"text"`
		AvgLogProb float64 `json:"avg_logprob"`
	}
	segs := make([]segment, len(segLPs))
	for i, lp := range segLPs {
		segs[i] = segment{Text: text, AvgLogProb: lp}
	}
	out, _ := json.Marshal(map[string]any{
		"text":     text,
		"language": lang,
		"segments": segs,
	})
	return string(out)
}

func TestNewRequiresServerURL(t *testing.T) {
	t.Parallel()

	if _, err := whisper.New(whisper.Config{}, nil); err == nil {
		t.Fatal("want an error for a missing server URL")
	}
}

func TestTranscribeUploadsGatedUtterance(t *testing.T) {
	t.Parallel()

	raw := paddedUtterance()
	var calls atomic.Int32
	var uploaded atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		calls.Add(1)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("language"); got != "ro" {
			t.Errorf("language field = %q, want %q", got, "ro")
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("response_format field = %q, want %q", got, "verbose_json")
		}
		if got := r.FormValue("temperature"); got != "0.0" {
			t.Errorf("temperature field = %q, want %q", got, "0.0")
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			defer file.Close()
			wav, err := io.ReadAll(file)
			if err != nil {
				t.Errorf("read uploaded wav: %v", err)
			}
			samples, rate, err := audio.DecodeWAV(wav)
			if err != nil {
				t.Errorf("decode uploaded wav: %v", err)
			}
			if rate != 16000 {
				t.Errorf("uploaded sample rate = %d, want 16000", rate)
			}
			uploaded.Store(int32(len(samples)))
		}

		fmt.Fprint(w, verboseJSON(" Salut. ", "ro", -0.25))
	}))
	defer srv.Close()

	c, err := whisper.New(whisper.Config{ServerURL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := c.Transcribe(context.Background(), raw, "ro")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "Salut." {
		t.Errorf("Text = %q, want %q", res.Text, "Salut.")
	}
	if res.Lang != "ro" {
		t.Errorf("Lang = %q, want %q", res.Lang, "ro")
	}
	if math.Abs(res.Confidence-(-0.25)) > 1e-9 {
		t.Errorf("Confidence = %v, want -0.25", res.Confidence)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d requests, want 1", got)
	}
	if got := int(uploaded.Load()); got == 0 || got >= len(raw) {
		t.Errorf("uploaded %d samples, want the gated slice of the %d raw", got, len(raw))
	}
}

func TestTranscribeAutoDetectReportsServerLanguage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("language"); got != "auto" {
			t.Errorf("language field = %q, want %q", got, "auto")
		}
		fmt.Fprint(w, verboseJSON("bun venit", "ro", -0.4))
	}))
	defer srv.Close()

	c, err := whisper.New(whisper.Config{ServerURL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := c.Transcribe(context.Background(), makeSpeech(3200), "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Lang != "ro" {
		t.Errorf("Lang = %q, want the server-reported %q", res.Lang, "ro")
	}
}

func TestTranscribeServerErrorSurfaces(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := whisper.New(whisper.Config{ServerURL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.Transcribe(context.Background(), makeSpeech(3200), "en")
	if err == nil {
		t.Fatal("want an error for HTTP 500")
	}
}

func TestTranscribeGarbledResponseFails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>definitely not json</html>")
	}))
	defer srv.Close()

	c, err := whisper.New(whisper.Config{ServerURL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := c.Transcribe(context.Background(), makeSpeech(3200), "en"); err == nil {
		t.Fatal("want an error for a garbled response body")
	}
}

func TestTranscribeBilingualArbitratesAcrossRequests(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	seen := map[string]bool{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		lang := r.FormValue("language")
		mu.Lock()
		seen[lang] = true
		mu.Unlock()

		switch lang {
		case "en":
			fmt.Fprint(w, verboseJSON("salad print  ", "en", -1.2))
		case "ro":
			fmt.Fprint(w, verboseJSON("salut prietene", "ro", -0.3))
		default:
			t.Errorf("unexpected language field %q", lang)
			http.Error(w, "bad language", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	c, err := whisper.New(whisper.Config{ServerURL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := c.TranscribeBilingual(context.Background(), makeSpeech(3200))
	if err != nil {
		t.Fatalf("TranscribeBilingual: %v", err)
	}
	if res.Lang != "ro" || res.Text != "salut prietene" {
		t.Errorf("got %q/%q, want the Romanian hypothesis", res.Lang, res.Text)
	}

	mu.Lock()
	defer mu.Unlock()
	if !seen["en"] || !seen["ro"] {
		t.Errorf("server saw languages %v, want both en and ro", seen)
	}
}

func TestTranscribeCanceledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, verboseJSON("too late", "en", -0.5))
	}))
	defer srv.Close()

	c, err := whisper.New(whisper.Config{ServerURL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Transcribe(ctx, makeSpeech(3200), "en"); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
