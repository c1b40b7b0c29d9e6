// Package whisper transcribes recorded utterances with Whisper models,
// either through the HTTP inference endpoint of a running whisper-server
// (Client) or in process through the whisper.cpp bindings (NewNative,
// available in builds with the whispercpp tag).
//
// Both variants share the same batch shape: the caller hands over one
// finished utterance of 16 kHz mono PCM and gets back a single scored
// transcript. Bilingual calls decode both configured languages
// concurrently and keep the hypothesis with the higher score, where a
// hypothesis scores as its average segment log probability plus a small
// length bonus.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/urecho/urecho/pkg/audio"
	"github.com/urecho/urecho/pkg/provider/asr"
)

// sampleRate is the capture rate the models are trained on.
const sampleRate = 16000

// Config configures the HTTP client.
type Config struct {
	// ServerURL is the base URL of the whisper-server instance, for
	// example "http://localhost:8080". Required.
	ServerURL string

	// Primary and Secondary are the two languages bilingual calls
	// arbitrate between. The primary wins ties and is the fallback when
	// the secondary hypothesis is empty. Default "en" and "ro".
	Primary   string
	Secondary string

	// FilterRMS is the silence gate applied before upload, in 16-bit
	// PCM units. Defaults to 300; negative disables the gate.
	FilterRMS float64

	// Timeout bounds one inference request. Defaults to 30s.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Primary == "" {
		c.Primary = "en"
	}
	if c.Secondary == "" {
		c.Secondary = "ro"
	}
	if c.FilterRMS == 0 {
		c.FilterRMS = defaultFilterRMS
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Client is an asr.Transcriber backed by a whisper-server process. It
// uploads each utterance as a WAV to POST /inference and reads the
// verbose_json reply, which carries the per-segment log probabilities the
// bilingual scorer needs.
type Client struct {
	cfg  Config
	http *http.Client
	dec  decoder
	log  *slog.Logger
}

// Ensure Client implements asr.Transcriber at compile time.
var _ asr.Transcriber = (*Client)(nil)

// New builds the client. No connection is made until the first call.
func New(cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ServerURL == "" {
		return nil, errors.New("whisper: server URL is required")
	}
	cfg = cfg.withDefaults()

	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
	c.dec = decoder{
		primary:   cfg.Primary,
		secondary: cfg.Secondary,
		gate:      cfg.FilterRMS,
		infer:     c.infer,
		log:       log,
	}
	return c, nil
}

// Transcribe implements [asr.Transcriber].
func (c *Client) Transcribe(ctx context.Context, pcm []int16, langHint string) (asr.Result, error) {
	return c.dec.transcribe(ctx, pcm, langHint)
}

// TranscribeBilingual implements [asr.Transcriber]. The two language
// passes run as concurrent requests; whisper-server queues them, an
// OpenAI-compatible server runs them in parallel.
func (c *Client) TranscribeBilingual(ctx context.Context, pcm []int16) (asr.Result, error) {
	return c.dec.transcribeBilingual(ctx, pcm)
}

// inferenceResponse is the verbose_json reply shape of whisper-server.
type inferenceResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Text       string   `json:"text"`
		AvgLogProb *float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// infer uploads one utterance and returns the scored hypothesis.
func (c *Client) infer(ctx context.Context, pcm []int16, lang string) (hypothesis, error) {
	started := time.Now()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return hypothesis{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(pcm, sampleRate)); err != nil {
		return hypothesis{}, fmt.Errorf("whisper: write wav: %w", err)
	}
	if lang == "" {
		lang = "auto"
	}
	for _, f := range [...][2]string{
		{"language", lang},
		{"response_format", "verbose_json"},
		{"temperature", "0.0"},
	} {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return hypothesis{}, fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return hypothesis{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ServerURL+"/inference", &body)
	if err != nil {
		return hypothesis{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return hypothesis{}, fmt.Errorf("whisper: inference request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return hypothesis{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return hypothesis{}, fmt.Errorf("whisper: read response: %w", err)
	}
	var parsed inferenceResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return hypothesis{}, fmt.Errorf("whisper: parse response: %w", err)
	}

	segLPs := make([]float64, 0, len(parsed.Segments))
	for _, s := range parsed.Segments {
		lp := unknownSegLogProb
		if s.AvgLogProb != nil {
			lp = *s.AvgLogProb
		}
		segLPs = append(segLPs, lp)
	}

	h := scoreHypothesis(strings.TrimSpace(parsed.Text), strings.ToLower(parsed.Language), segLPs)
	c.log.Debug("inference pass",
		"lang", lang, "segments", h.segments, "score", h.score, "took", time.Since(started))
	return h, nil
}
