package barge

import "time"

// Accumulator folds per-frame gate decisions into a single debounced,
// cooldown-respecting sustained-voice trigger. Voiced frames build credit up
// to the configured requirement; non-voice frames bleed it off at the drop
// rate instead of zeroing it, so a moment of detector flicker inside a real
// utterance does not restart the count.
//
// Like the gate, an Accumulator belongs to one goroutine and works entirely
// in stream time.
type Accumulator struct {
	cfg Config

	voiced    time.Duration
	fired     bool
	lastFired time.Duration
}

// NewAccumulator creates an accumulator. cfg must already carry defaults.
func NewAccumulator(cfg Config) *Accumulator {
	return &Accumulator{cfg: cfg}
}

// Offer consumes one decision and reports whether the sustained-voice
// trigger fired on this frame.
//
// Frames before the arm window has elapsed are ignored outright. Once the
// accumulated credit reaches the requirement, the trigger fires only if the
// cooldown since the previous trigger has passed; otherwise the credit is
// silently reset so the accumulator cannot sit pinned at the threshold and
// fire the instant the cooldown expires.
func (a *Accumulator) Offer(d Decision) bool {
	at := d.At
	if at < a.cfg.ArmAfter {
		return false
	}
	if a.InDebounce(at) {
		return false
	}

	if d.IsVoice {
		a.voiced += time.Duration(a.cfg.BlockMs) * time.Millisecond
		if a.voiced > a.cfg.NeedVoice {
			a.voiced = a.cfg.NeedVoice
		}
	} else if a.voiced > 0 {
		a.voiced -= a.cfg.VoiceDrop
		if a.voiced < 0 {
			a.voiced = 0
		}
	}

	if a.voiced < a.cfg.NeedVoice {
		return false
	}
	a.voiced = 0
	if a.fired && at-a.lastFired < a.cfg.Cooldown {
		return false
	}
	a.fired = true
	a.lastFired = at
	return true
}

// NoteExternalTrigger records a trigger that fired outside the accumulator,
// such as a keyword spotter hit. The voice credit is dropped and the debounce
// and cooldown windows restart from at, so a spotter hit and a sustained-voice
// trigger can never fire back to back.
func (a *Accumulator) NoteExternalTrigger(at time.Duration) {
	a.voiced = 0
	a.fired = true
	a.lastFired = at
}

// InDebounce reports whether at falls inside the debounce window after the
// most recent trigger.
func (a *Accumulator) InDebounce(at time.Duration) bool {
	return a.fired && at-a.lastFired < a.cfg.Debounce
}

// Voiced returns the currently accumulated voice credit.
func (a *Accumulator) Voiced() time.Duration { return a.voiced }
