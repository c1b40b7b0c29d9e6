// Package monitor serves the debugging surface of the voice agent on one
// HTTP listener: liveness and readiness probes, Prometheus metrics, a small
// vitals page, and a WebSocket feed of live pipeline events.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/urecho/urecho/internal/health"
	"github.com/urecho/urecho/internal/observe"
)

const (
	defaultAddr            = "127.0.0.1:9108"
	defaultShutdownTimeout = 5 * time.Second
	wsWriteTimeout         = 5 * time.Second
)

// Config holds the network knobs of the monitor server.
type Config struct {
	// Addr is the listen address. Default: "127.0.0.1:9108".
	Addr string

	// ShutdownTimeout bounds graceful shutdown. Default: 5s.
	ShutdownTimeout time.Duration
}

// VitalsSource supplies the aggregated numbers behind the /vitals page.
// [*observe.Providers] implements it.
type VitalsSource interface {
	Snapshot(ctx context.Context) (observe.Snapshot, error)
}

// Deps carries the collaborators the server exposes. Nil fields disable
// their route.
type Deps struct {
	// Checkers are the readiness checks, evaluated in order on /readyz.
	Checkers []health.Checker

	// Metrics is the Prometheus scrape handler served on /metrics.
	Metrics http.Handler

	// Vitals backs the / and /vitals summary pages.
	Vitals VitalsSource

	// Feed is the event hub behind /ws/events.
	Feed *Feed

	// Meter instruments the HTTP surface itself.
	Meter *observe.Metrics
}

// Server is the monitor HTTP server. Create with [New], drive with
// [Server.Run].
type Server struct {
	cfg    Config
	srv    *http.Server
	feed   *Feed
	vitals VitalsSource
	log    *slog.Logger

	mu   sync.Mutex
	addr string
}

// New builds the monitor server and its routes.
func New(cfg Config, deps Deps, log *slog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		feed:   deps.Feed,
		vitals: deps.Vitals,
		log:    log,
	}

	mux := http.NewServeMux()
	health.New(deps.Checkers...).Register(mux)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}
	if deps.Vitals != nil {
		mux.HandleFunc("GET /{$}", s.handleVitals)
		mux.HandleFunc("GET /vitals", s.handleVitals)
	}
	if deps.Feed != nil {
		mux.HandleFunc("GET /ws/events", s.handleEvents)
	}

	var handler http.Handler = mux
	if deps.Meter != nil {
		handler = observe.Middleware(deps.Meter)(mux)
	}

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the route tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Addr returns the bound listen address, or "" before [Server.Run] has
// started listening. Useful with a ":0" configured address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run serves until ctx is cancelled, then shuts down gracefully. Request
// contexts descend from ctx, so the event feed connections drain themselves
// on shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("monitor: listen %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	s.log.Info("monitor listening", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	s.srv.BaseContext = func(net.Listener) context.Context { return gctx }

	g.Go(func() error {
		if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("monitor: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(sctx); err != nil {
			s.srv.Close()
			return fmt.Errorf("monitor: shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// handleEvents upgrades the request and streams feed events as JSON text
// frames until the client disconnects or the server shuts down.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The feed is a local debugging aid; any origin may attach.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Debug("event feed upgrade failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "feed closed")

	events, cancel := s.feed.Subscribe()
	defer cancel()

	// The feed is write-only; CloseRead discards client frames and ends the
	// context when the client goes away.
	ctx := conn.CloseRead(r.Context())
	s.log.Debug("event feed client attached", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.Error("event feed marshal failed", "error", err)
				continue
			}
			wctx, wcancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				s.log.Debug("event feed client lost", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}

var vitalsTmpl = template.Must(template.New("vitals").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>urecho vitals</title>
<style>
  body { font: 14px/1.4 system-ui, sans-serif; margin: 24px; }
  h1 { margin: 0 0 4px; font-size: 20px; }
  .small { color: #666; margin-bottom: 16px; }
  table { border-collapse: collapse; margin: 12px 0 24px; min-width: 320px; }
  th, td { padding: 6px 12px; border-bottom: 1px solid #eee; text-align: left; }
</style></head>
<body>
<h1>urecho vitals</h1>
<div class="small">Averages and counters. Full Prometheus data at <a href="/metrics">/metrics</a>, live feed at /ws/events.</div>
<table><thead><tr><th>Latency</th><th>Average</th></tr></thead><tbody>
{{range .Latencies}}<tr><td>{{.Name}}</td><td>{{if .Count}}{{.Avg}} (n={{.Count}}){{else}}&mdash;{{end}}</td></tr>
{{end}}</tbody></table>
<table><thead><tr><th>Counter</th><th>Total</th></tr></thead><tbody>
{{range .Counters}}<tr><td>{{.Name}}</td><td>{{.Total}}</td></tr>
{{end}}</tbody></table>
</body></html>
`))

func (s *Server) handleVitals(w http.ResponseWriter, r *http.Request) {
	snap, err := s.vitals.Snapshot(r.Context())
	if err != nil {
		s.log.Error("vitals snapshot failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := vitalsTmpl.Execute(w, snap); err != nil {
		s.log.Error("vitals render failed", "error", err)
	}
}
