// Package history persists the interaction log to PostgreSQL: sessions,
// their turns with measured latencies, and wake events.
//
// The store is optional and strictly off the hot path. Writes queue onto a
// single background worker; a full queue drops the record, and a failing
// database marks the log degraded while the pipeline carries on. Opening
// with an empty DSN yields a disabled log whose methods are no-ops.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	queueDepth   = 128
	writeTimeout = 5 * time.Second
)

// Turn is one logged exchange half.
type Turn struct {
	// Role is "user" or "assistant".
	Role string

	// Text is what was heard or said.
	Text string

	// Lang is the session language at the time of the turn.
	Lang string

	// Heard is the recognition latency; set on user turns.
	Heard time.Duration

	// Spoke is the time to first audio; set on assistant turns.
	Spoke time.Duration
}

// Wake is one logged wake detection.
type Wake struct {
	// Engine names the spotter that fired ("porcupine", "oww", "text").
	Engine string

	// Phrase is the wake phrase or keyword that matched.
	Phrase string

	// Lang is the language the phrase selects.
	Lang string

	// Score is the engine's detection confidence, when it reports one.
	Score float64

	// Accepted is false when the arbiter vetoed the detection.
	Accepted bool
}

type record struct {
	sql  string
	args []any
}

type execFunc func(ctx context.Context, sql string, args ...any) error

// Log is the asynchronous interaction store. The zero value and nil are
// both safe to call and record nothing; use Open to get a live one.
type Log struct {
	pool *pgxpool.Pool
	exec execFunc
	log  *slog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan record
	done   chan struct{}

	degraded atomic.Bool
}

// Open connects to the database at dsn, ensures the schema, and starts the
// write worker. An empty dsn disables the store without error.
func Open(ctx context.Context, dsn string, log *slog.Logger) (*Log, error) {
	if log == nil {
		log = slog.Default()
	}
	if dsn == "" {
		log.Info("interaction log disabled, no DSN configured")
		return &Log{log: log}, nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}

	l := newLog(func(ctx context.Context, sql string, args ...any) error {
		_, err := pool.Exec(ctx, sql, args...)
		return err
	}, queueDepth, log)
	l.pool = pool
	log.Info("interaction log ready")
	return l, nil
}

func newLog(exec execFunc, depth int, log *slog.Logger) *Log {
	l := &Log{
		exec:  exec,
		log:   log,
		queue: make(chan record, depth),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

// Enabled reports whether records are being persisted.
func (l *Log) Enabled() bool {
	return l != nil && l.queue != nil
}

// IsDegraded reports whether the most recent write failed. Degraded mode
// clears itself on the next successful write.
func (l *Log) IsDegraded() bool {
	return l != nil && l.degraded.Load()
}

// Ping verifies database connectivity. A disabled log reports healthy.
func (l *Log) Ping(ctx context.Context) error {
	if l == nil || l.pool == nil {
		return nil
	}
	return l.pool.Ping(ctx)
}

// StartSession records the beginning of a session.
func (l *Log) StartSession(sessionID, lang string) {
	l.enqueue(`INSERT INTO interaction_sessions (session_id, lang)
		VALUES ($1, $2) ON CONFLICT (session_id) DO NOTHING`,
		sessionID, lang)
}

// EndSession records when and why a session ended.
func (l *Log) EndSession(sessionID, reason string) {
	l.enqueue(`UPDATE interaction_sessions
		SET ended_at = now(), end_reason = $2 WHERE session_id = $1`,
		sessionID, reason)
}

// LogTurn records one turn of a session.
func (l *Log) LogTurn(sessionID string, t Turn) {
	l.enqueue(`INSERT INTO interaction_turns (session_id, role, text, lang, heard_ns, spoke_ns)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sessionID, t.Role, t.Text, t.Lang, t.Heard.Nanoseconds(), t.Spoke.Nanoseconds())
}

// LogWake records one wake detection, accepted or vetoed.
func (l *Log) LogWake(w Wake) {
	l.enqueue(`INSERT INTO wake_events (engine, phrase, lang, score, accepted)
		VALUES ($1, $2, $3, $4, $5)`,
		w.Engine, w.Phrase, w.Lang, w.Score, w.Accepted)
}

// Close drains queued writes, stops the worker and releases the pool.
func (l *Log) Close() {
	if l == nil || l.queue == nil {
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	if l.pool != nil {
		l.pool.Close()
	}
}

func (l *Log) enqueue(sql string, args ...any) {
	if l == nil || l.queue == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- record{sql: sql, args: args}:
	default:
		l.log.Debug("interaction log queue full, dropping record")
	}
}

func (l *Log) run() {
	defer close(l.done)
	for r := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := l.exec(ctx, r.sql, r.args...)
		cancel()
		if err != nil {
			if l.degraded.CompareAndSwap(false, true) {
				l.log.Warn("interaction log write failed, running degraded", "error", err)
			}
			continue
		}
		if l.degraded.CompareAndSwap(true, false) {
			l.log.Info("interaction log recovered")
		}
	}
}
