package actions_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/urecho/urecho/internal/actions"
)

func TestExtract(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     string
		want   string
		events []actions.Event
	}{
		{
			name: "no tags",
			in:   "Sure, turning on the lights now.",
			want: "Sure, turning on the lights now.",
		},
		{
			name:   "single intent",
			in:     "Sure. [INTENT:lights_on] Done.",
			want:   "Sure.  Done.",
			events: []actions.Event{{Kind: actions.KindIntent, Value: "lights_on"}},
		},
		{
			name: "all kinds in order",
			in:   "[INTENT:greet][MOTOR:wave][ACTION:look_up]Hi!",
			want: "Hi!",
			events: []actions.Event{
				{Kind: actions.KindIntent, Value: "greet"},
				{Kind: actions.KindMotor, Value: "wave"},
				{Kind: actions.KindAction, Value: "look_up"},
			},
		},
		{
			name:   "value keeps inner spaces",
			in:     "go [ACTION:wave both hands] now",
			want:   "go  now",
			events: []actions.Event{{Kind: actions.KindAction, Value: "wave both hands"}},
		},
		{
			name:   "value trimmed at the edges",
			in:     "[MOTOR: head_turn ]",
			want:   "",
			events: []actions.Event{{Kind: actions.KindMotor, Value: "head_turn"}},
		},
		{
			name: "stage direction untouched",
			in:   "haha [laughs] good one",
			want: "haha [laughs] good one",
		},
		{
			name: "lower case is not a directive",
			in:   "[intent:nope]",
			want: "[intent:nope]",
		},
		{
			name: "unterminated tag survives",
			in:   "wait [MOTOR:spin",
			want: "wait [MOTOR:spin",
		},
		{
			name: "empty value is not a directive",
			in:   "[INTENT:]",
			want: "[INTENT:]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, events := actions.Extract(tt.in)
			if got != tt.want {
				t.Errorf("text: want %q, got %q", tt.want, got)
			}
			if len(events) != len(tt.events) {
				t.Fatalf("want %d events, got %d: %v", len(tt.events), len(events), events)
			}
			for i, ev := range events {
				if ev != tt.events[i] {
					t.Errorf("event %d: want %+v, got %+v", i, tt.events[i], ev)
				}
			}
		})
	}
}

func TestStripperPassThrough(t *testing.T) {
	t.Parallel()

	var s actions.Stripper
	for _, chunk := range []string{"Hello ", "there, ", "friend."} {
		clean, events := s.Feed(chunk)
		if clean != chunk {
			t.Errorf("want %q back, got %q", chunk, clean)
		}
		if len(events) != 0 {
			t.Errorf("unexpected events: %v", events)
		}
	}
	if tail := s.Flush(); tail != "" {
		t.Errorf("want empty flush, got %q", tail)
	}
}

func TestStripperTagWithinChunk(t *testing.T) {
	t.Parallel()

	var s actions.Stripper
	clean, events := s.Feed("OK. [INTENT:lights_on] Doing it.")
	if clean != "OK.  Doing it." {
		t.Errorf("want clean text, got %q", clean)
	}
	want := actions.Event{Kind: actions.KindIntent, Value: "lights_on"}
	if len(events) != 1 || events[0] != want {
		t.Fatalf("want [%+v], got %v", want, events)
	}
}

func TestStripperTagSplitAcrossChunks(t *testing.T) {
	t.Parallel()

	var s actions.Stripper

	clean, events := s.Feed("Turning them on. [INT")
	if clean != "Turning them on. " {
		t.Errorf("text before the tag should not be delayed: got %q", clean)
	}
	if len(events) != 0 {
		t.Fatalf("no event should fire on a partial tag, got %v", events)
	}

	clean, events = s.Feed("ENT:lights_on] There.")
	if clean != " There." {
		t.Errorf("want %q, got %q", " There.", clean)
	}
	want := actions.Event{Kind: actions.KindIntent, Value: "lights_on"}
	if len(events) != 1 || events[0] != want {
		t.Fatalf("want [%+v], got %v", want, events)
	}
	if tail := s.Flush(); tail != "" {
		t.Errorf("want empty flush, got %q", tail)
	}
}

func TestStripperCharByChar(t *testing.T) {
	t.Parallel()

	in := "Hi [MOTOR:nod] ok"
	var (
		s      actions.Stripper
		out    strings.Builder
		events []actions.Event
	)
	for _, r := range in {
		clean, evs := s.Feed(string(r))
		out.WriteString(clean)
		events = append(events, evs...)
	}
	out.WriteString(s.Flush())

	if got := out.String(); got != "Hi  ok" {
		t.Errorf("want %q, got %q", "Hi  ok", got)
	}
	want := actions.Event{Kind: actions.KindMotor, Value: "nod"}
	if len(events) != 1 || events[0] != want {
		t.Fatalf("want [%+v], got %v", want, events)
	}
}

func TestStripperBracketThatNeverBecomesADirective(t *testing.T) {
	t.Parallel()

	var s actions.Stripper
	first, _ := s.Feed("a [la")
	second, _ := s.Feed("ughs] b")
	if got := first + second; got != "a [laughs] b" {
		t.Errorf("stage direction should pass through, got %q", got)
	}
}

func TestStripperHeldBracketReleasedOnDivergence(t *testing.T) {
	t.Parallel()

	var s actions.Stripper
	first, _ := s.Feed("try the [I")
	if first != "try the " {
		t.Errorf("want %q, got %q", "try the ", first)
	}
	second, events := s.Feed("talian place] nearby")
	if second != "[Italian place] nearby" {
		t.Errorf("held text should come back verbatim, got %q", second)
	}
	if len(events) != 0 {
		t.Errorf("unexpected events: %v", events)
	}
}

func TestStripperFlushReturnsUnterminatedTag(t *testing.T) {
	t.Parallel()

	var s actions.Stripper
	clean, events := s.Feed("wait [MOTOR:spin")
	if clean != "wait " {
		t.Errorf("want %q, got %q", "wait ", clean)
	}
	if len(events) != 0 {
		t.Fatalf("unexpected events: %v", events)
	}
	if tail := s.Flush(); tail != "[MOTOR:spin" {
		t.Errorf("want the unterminated tag back, got %q", tail)
	}
	if tail := s.Flush(); tail != "" {
		t.Errorf("second flush should be empty, got %q", tail)
	}
}

func TestStripperTrailingLoneBracket(t *testing.T) {
	t.Parallel()

	var s actions.Stripper
	clean, _ := s.Feed("half [")
	if clean != "half " {
		t.Errorf("want %q, got %q", "half ", clean)
	}
	if tail := s.Flush(); tail != "[" {
		t.Errorf("want %q, got %q", "[", tail)
	}
}

// recordingDispatcher records events and optionally blocks or fails.
type recordingDispatcher struct {
	mu      sync.Mutex
	events  []actions.Event
	err     error
	started chan struct{} // signaled on entry when non-nil
	gate    chan struct{} // blocks Dispatch until closed when non-nil
}

func (d *recordingDispatcher) Dispatch(_ context.Context, ev actions.Event) error {
	if d.started != nil {
		d.started <- struct{}{}
	}
	if d.gate != nil {
		<-d.gate
	}
	d.mu.Lock()
	d.events = append(d.events, ev)
	d.mu.Unlock()
	return d.err
}

func (d *recordingDispatcher) got() []actions.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]actions.Event(nil), d.events...)
}

func TestPumpDeliversInOrder(t *testing.T) {
	t.Parallel()

	rd := &recordingDispatcher{}
	p := actions.NewPump(8, nil, rd)
	want := []actions.Event{
		{Kind: actions.KindIntent, Value: "a"},
		{Kind: actions.KindMotor, Value: "b"},
		{Kind: actions.KindAction, Value: "c"},
	}
	p.PostAll(want)
	p.Close()

	if got := rd.got(); !reflect.DeepEqual(got, want) {
		t.Errorf("want %v, got %v", want, got)
	}
}

func TestPumpFansOutToAllDispatchers(t *testing.T) {
	t.Parallel()

	rd1 := &recordingDispatcher{}
	rd2 := &recordingDispatcher{}
	p := actions.NewPump(8, nil, rd1, rd2)
	ev := actions.Event{Kind: actions.KindAction, Value: "wave"}
	p.Post(ev)
	p.Close()

	for i, rd := range []*recordingDispatcher{rd1, rd2} {
		if got := rd.got(); len(got) != 1 || got[0] != ev {
			t.Errorf("dispatcher %d: want [%+v], got %v", i, ev, got)
		}
	}
}

func TestPumpDropsWhenFull(t *testing.T) {
	t.Parallel()

	rd := &recordingDispatcher{
		started: make(chan struct{}, 4),
		gate:    make(chan struct{}),
	}
	p := actions.NewPump(1, nil, rd)

	p.Post(actions.Event{Kind: actions.KindIntent, Value: "one"})
	<-rd.started // worker holds "one"; queue is empty again
	p.Post(actions.Event{Kind: actions.KindMotor, Value: "two"})
	p.Post(actions.Event{Kind: actions.KindAction, Value: "three"}) // queue full, dropped
	close(rd.gate)
	p.Close()

	want := []actions.Event{
		{Kind: actions.KindIntent, Value: "one"},
		{Kind: actions.KindMotor, Value: "two"},
	}
	if got := rd.got(); !reflect.DeepEqual(got, want) {
		t.Errorf("want %v, got %v", want, got)
	}
}

func TestPumpPostAfterCloseIsNoOp(t *testing.T) {
	t.Parallel()

	rd := &recordingDispatcher{}
	p := actions.NewPump(4, nil, rd)
	p.Close()
	p.Post(actions.Event{Kind: actions.KindIntent, Value: "late"})
	p.Close()

	if got := rd.got(); len(got) != 0 {
		t.Errorf("want no events, got %v", got)
	}
}

func TestPumpKeepsGoingAfterDispatchError(t *testing.T) {
	t.Parallel()

	failing := &recordingDispatcher{err: errors.New("tool server down")}
	healthy := &recordingDispatcher{}
	p := actions.NewPump(8, nil, failing, healthy)
	p.PostAll([]actions.Event{
		{Kind: actions.KindIntent, Value: "a"},
		{Kind: actions.KindMotor, Value: "b"},
	})
	p.Close()

	if got := healthy.got(); len(got) != 2 {
		t.Errorf("want 2 events despite the failing peer, got %v", got)
	}
}

func TestLogDispatcher(t *testing.T) {
	t.Parallel()

	d := &actions.LogDispatcher{}
	if err := d.Dispatch(context.Background(), actions.Event{Kind: actions.KindIntent, Value: "x"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestTransportIsValid(t *testing.T) {
	t.Parallel()

	if !actions.TransportStdio.IsValid() || !actions.TransportStreamableHTTP.IsValid() {
		t.Error("known transports should be valid")
	}
	if actions.Transport("carrier-pigeon").IsValid() {
		t.Error("unknown transport should be invalid")
	}
}

func TestNewMCPDispatcherConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     actions.MCPConfig
		wantErr string
	}{
		{
			name:    "unknown transport",
			cfg:     actions.MCPConfig{Transport: "carrier-pigeon"},
			wantErr: "unknown MCP transport",
		},
		{
			name:    "stdio without command",
			cfg:     actions.MCPConfig{Transport: actions.TransportStdio},
			wantErr: "requires a command",
		},
		{
			name:    "streamable-http without url",
			cfg:     actions.MCPConfig{Transport: actions.TransportStreamableHTTP},
			wantErr: "requires a URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := actions.NewMCPDispatcher(context.Background(), tt.cfg, nil)
			if err == nil {
				t.Fatal("want an error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("want error containing %q, got %q", tt.wantErr, err)
			}
		})
	}
}
