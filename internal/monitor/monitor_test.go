package monitor

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/urecho/urecho/internal/health"
	"github.com/urecho/urecho/internal/observe"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeVitals struct {
	snap observe.Snapshot
}

func (f fakeVitals) Snapshot(context.Context) (observe.Snapshot, error) {
	return f.snap, nil
}

func newTestServer(t *testing.T, deps Deps) (*Server, *httptest.Server) {
	t.Helper()
	s := New(Config{}, deps, testLogger())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res.StatusCode, string(body)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestHealthRoutes(t *testing.T) {
	t.Parallel()

	deps := Deps{Checkers: []health.Checker{
		{Name: "history", Check: func(context.Context) error {
			return health.Degraded("writes failing")
		}},
		{Name: "providers", Check: func(context.Context) error { return nil }},
	}}
	_, ts := newTestServer(t, deps)

	status, _ := get(t, ts.URL+"/healthz")
	if status != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", status)
	}

	status, body := get(t, ts.URL+"/readyz")
	if status != http.StatusOK {
		t.Errorf("readyz status = %d, want 200 (degraded history must not fail readiness)", status)
	}
	if !strings.Contains(body, "degraded: writes failing") {
		t.Errorf("readyz body missing degraded detail: %s", body)
	}
	if !strings.Contains(body, `"providers":"ok"`) {
		t.Errorf("readyz body missing providers check: %s", body)
	}
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "urecho_wake_triggers_total",
		Help: "Total wake detections.",
	})
	reg.MustRegister(c)
	c.Add(3)

	_, ts := newTestServer(t, Deps{
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	status, body := get(t, ts.URL+"/metrics")
	if status != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", status)
	}
	if !strings.Contains(body, "urecho_wake_triggers_total 3") {
		t.Errorf("scrape output missing counter, got: %s", body)
	}
}

func TestVitalsPage(t *testing.T) {
	t.Parallel()

	snap := observe.Snapshot{
		Latencies: []observe.LatencyStat{
			{Name: "urecho.asr.duration", Avg: 300 * time.Millisecond, Count: 2},
			{Name: "urecho.tts.duration"},
		},
		Counters: []observe.CounterStat{
			{Name: "urecho.interactions", Total: 7},
		},
	}
	_, ts := newTestServer(t, Deps{Vitals: fakeVitals{snap: snap}})

	for _, path := range []string{"/", "/vitals"} {
		status, body := get(t, ts.URL+path)
		if status != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200", path, status)
		}
		if !strings.Contains(body, "urecho vitals") {
			t.Errorf("%s: missing page title", path)
		}
		if !strings.Contains(body, "300ms (n=2)") {
			t.Errorf("%s: missing formatted latency, got: %s", path, body)
		}
		if !strings.Contains(body, "&mdash;") {
			t.Errorf("%s: empty histogram should render a dash", path)
		}
		if !strings.Contains(body, "urecho.interactions") || !strings.Contains(body, "7") {
			t.Errorf("%s: missing counter row", path)
		}
	}
}

func TestEventsFeedStreamsOverWebSocket(t *testing.T) {
	t.Parallel()

	feed := NewFeed()
	_, ts := newTestServer(t, Deps{Feed: feed})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	waitFor(t, func() bool { return feed.subscriberCount() == 1 })

	feed.Publish(Event{Kind: EventTTFT, Session: "s1", Millis: 420})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if ev.Kind != EventTTFT || ev.Session != "s1" || ev.Millis != 420 {
		t.Errorf("event = %+v", ev)
	}
	if ev.At.IsZero() {
		t.Error("event lost its timestamp on the wire")
	}

	// Closing the client must detach the subscriber.
	conn.Close(websocket.StatusNormalClosure, "done")
	waitFor(t, func() bool { return feed.subscriberCount() == 0 })
}

func TestRunServesAndShutsDownGracefully(t *testing.T) {
	t.Parallel()

	s := New(Config{Addr: "127.0.0.1:0", ShutdownTimeout: 2 * time.Second}, Deps{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	waitFor(t, func() bool { return s.Addr() != "" })

	status, _ := get(t, "http://"+s.Addr()+"/healthz")
	if status != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", status)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
