package barge

import (
	"testing"
	"time"
)

// feedVoiced offers n voiced decisions starting at from, one block apart, and
// returns the time of the first fire or -1 if none fired.
func feedVoiced(a *Accumulator, cfg Config, from time.Duration, n int) time.Duration {
	block := time.Duration(cfg.BlockMs) * time.Millisecond
	for i := 0; i < n; i++ {
		at := from + time.Duration(i)*block
		if a.Offer(Decision{At: at, IsVoice: true}) {
			return at
		}
	}
	return -1
}

func TestAccumulator_FiresAfterSustainedVoice(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig().withDefaults()
	a := NewAccumulator(cfg)

	// 650 ms of credit at 20 ms per frame lands on the 33rd voiced frame.
	fired := feedVoiced(a, cfg, cfg.ArmAfter, 40)
	want := cfg.ArmAfter + 32*20*time.Millisecond
	if fired != want {
		t.Fatalf("fired at %s, want %s", fired, want)
	}
	if a.Voiced() != 0 {
		t.Fatalf("credit after fire = %s, want 0", a.Voiced())
	}
}

func TestAccumulator_ArmWindowCollectsNothing(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig().withDefaults()
	a := NewAccumulator(cfg)

	block := time.Duration(cfg.BlockMs) * time.Millisecond
	for at := time.Duration(0); at < cfg.ArmAfter; at += block {
		if a.Offer(Decision{At: at, IsVoice: true}) {
			t.Fatalf("fired at %s inside the arm window", at)
		}
	}
	if a.Voiced() != 0 {
		t.Fatalf("credit from arm-window frames = %s, want 0", a.Voiced())
	}
}

func TestAccumulator_FlickerDecaysWithoutReset(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig().withDefaults()
	a := NewAccumulator(cfg)

	at := feedVoicedNoFire(t, a, cfg, cfg.ArmAfter, 10)
	if got, want := a.Voiced(), 200*time.Millisecond; got != want {
		t.Fatalf("credit after 10 voiced frames = %s, want %s", got, want)
	}

	block := time.Duration(cfg.BlockMs) * time.Millisecond
	for i := 0; i < 3; i++ {
		a.Offer(Decision{At: at})
		at += block
	}
	if got, want := a.Voiced(), 140*time.Millisecond; got != want {
		t.Fatalf("credit after 3-frame flicker = %s, want %s (decayed, not reset)", got, want)
	}
}

// feedVoicedNoFire offers n voiced decisions and fails the test if any fires.
// It returns the stream time just past the last frame.
func feedVoicedNoFire(t *testing.T, a *Accumulator, cfg Config, from time.Duration, n int) time.Duration {
	t.Helper()
	if fired := feedVoiced(a, cfg, from, n); fired >= 0 {
		t.Fatalf("unexpected fire at %s", fired)
	}
	return from + time.Duration(n*cfg.BlockMs)*time.Millisecond
}

func TestAccumulator_CooldownResetsSilently(t *testing.T) {
	t.Parallel()

	cfg := Config{
		BlockMs:   20,
		NeedVoice: 100 * time.Millisecond,
		ArmAfter:  400 * time.Millisecond,
		Debounce:  40 * time.Millisecond,
		Cooldown:  800 * time.Millisecond,
	}.withDefaults()
	a := NewAccumulator(cfg)

	first := feedVoiced(a, cfg, cfg.ArmAfter, 10)
	if first != 480*time.Millisecond {
		t.Fatalf("first fire at %s, want 480ms", first)
	}

	// Refill to the requirement well inside the cooldown: the credit must be
	// swallowed, not parked at the threshold.
	refillFrom := first + cfg.Debounce + 20*time.Millisecond
	if fired := feedVoiced(a, cfg, refillFrom, 5); fired >= 0 {
		t.Fatalf("fired at %s inside the cooldown", fired)
	}
	if a.Voiced() != 0 {
		t.Fatalf("credit inside cooldown = %s, want 0 after silent reset", a.Voiced())
	}

	// After the cooldown a fresh accumulation fires again.
	second := feedVoiced(a, cfg, first+cfg.Cooldown+20*time.Millisecond, 10)
	if second < 0 {
		t.Fatal("no second fire after the cooldown elapsed")
	}
}

func TestAccumulator_DebounceSwallowsFrames(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig().withDefaults()
	a := NewAccumulator(cfg)

	first := feedVoiced(a, cfg, cfg.ArmAfter, 40)
	if first < 0 {
		t.Fatal("no initial fire")
	}

	block := time.Duration(cfg.BlockMs) * time.Millisecond
	for at := first + block; at < first+cfg.Debounce; at += block {
		if !a.InDebounce(at) {
			t.Fatalf("at %s not in debounce after fire at %s", at, first)
		}
		if a.Offer(Decision{At: at, IsVoice: true}) {
			t.Fatalf("fired at %s inside the debounce window", at)
		}
	}
	if a.Voiced() != 0 {
		t.Fatalf("debounced frames accumulated %s of credit, want 0", a.Voiced())
	}
	if a.InDebounce(first + cfg.Debounce) {
		t.Fatalf("still debouncing at %s, window is %s", first+cfg.Debounce, cfg.Debounce)
	}
}

func TestAccumulator_ExternalTriggerRestartsWindows(t *testing.T) {
	t.Parallel()

	cfg := Config{
		BlockMs:   20,
		NeedVoice: 100 * time.Millisecond,
		ArmAfter:  400 * time.Millisecond,
		Debounce:  40 * time.Millisecond,
		Cooldown:  800 * time.Millisecond,
	}.withDefaults()
	a := NewAccumulator(cfg)

	feedVoicedNoFire(t, a, cfg, cfg.ArmAfter, 3)
	hit := cfg.ArmAfter + 60*time.Millisecond
	a.NoteExternalTrigger(hit)

	if a.Voiced() != 0 {
		t.Fatalf("credit after external trigger = %s, want 0", a.Voiced())
	}
	if !a.InDebounce(hit + 20*time.Millisecond) {
		t.Fatal("external trigger did not start a debounce window")
	}

	// Sustained voice right after the spotter hit must wait out the cooldown.
	if fired := feedVoiced(a, cfg, hit+cfg.Debounce+20*time.Millisecond, 5); fired >= 0 {
		t.Fatalf("fired at %s inside the external trigger's cooldown", fired)
	}
	if fired := feedVoiced(a, cfg, hit+cfg.Cooldown+20*time.Millisecond, 10); fired < 0 {
		t.Fatal("no fire after the external trigger's cooldown elapsed")
	}
}
