package monitor

import (
	"sync"
	"time"
)

// Event kinds published on the feed.
const (
	EventState = "state" // session state transition
	EventWake  = "wake"  // wake detection, accepted or vetoed
	EventBarge = "barge" // user spoke over the reply
	EventStop  = "stop"  // spoken stop command matched
	EventAbort = "abort" // turn cut short
	EventTTFT  = "ttft"  // first-token latency reading
)

// Event is one entry on the live debugging feed. Only the fields that apply
// to the kind are set.
type Event struct {
	Kind    string    `json:"kind"`
	At      time.Time `json:"at"`
	Session string    `json:"session,omitempty"`
	Lang    string    `json:"lang,omitempty"`
	From    string    `json:"from,omitempty"`
	To      string    `json:"to,omitempty"`
	Engine  string    `json:"engine,omitempty"`
	Phrase  string    `json:"phrase,omitempty"`
	Score   float64   `json:"score,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Millis  int64     `json:"ms,omitempty"`
}

// subscriberBuffer is the per-subscriber event backlog. A subscriber that
// falls further behind loses events rather than slowing the pipeline.
const subscriberBuffer = 64

// Feed fans pipeline events out to any number of subscribers. Publishing
// never blocks and a nil *Feed swallows events, so callers need no guard
// when the monitor is disabled.
type Feed struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewFeed creates an empty event feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[chan Event]struct{})}
}

// Publish delivers ev to every current subscriber, stamping the time when
// unset. Subscribers with a full backlog are skipped.
func (f *Feed) Publish(ev Event) {
	if f == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a new subscriber and returns its event channel along
// with a cancel function. Cancel is idempotent and closes the channel.
func (f *Feed) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, ch)
			f.mu.Unlock()
			// Sends happen under the mutex, so nobody can still be
			// writing to ch here.
			close(ch)
		})
	}
	return ch, cancel
}

func (f *Feed) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
