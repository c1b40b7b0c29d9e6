// Package energy implements a dependency-free VAD backend based on RMS
// energy with an adaptive noise floor and hysteresis. It is the fallback when
// no Silero model file is configured, and it is deliberately conservative:
// energy detection cannot tell speech from any other loud sound, so the
// downstream gates do the finer filtering.
package energy

import (
	"math"
	"sync"

	"github.com/urecho/urecho/pkg/provider/vad"
)

const (
	// floorAlpha smooths the adaptive noise floor estimate.
	floorAlpha = 0.05

	// marginDB is how far above the noise floor a frame must rise to count
	// as speech.
	marginDB = 9.0

	// releaseDB is the hysteresis width: once voiced, the level may fall
	// this far below the speech threshold before the segment ends.
	releaseDB = 3.0

	// attackFrames consecutive loud frames are required to enter speech,
	// releaseFrames quiet ones to leave it. At 20 ms frames that is 60 ms
	// attack and 300 ms release.
	attackFrames  = 3
	releaseFrames = 15

	// silenceFloorDB seeds the adaptive floor and bounds it from below.
	silenceFloorDB = -65.0
)

// Engine creates energy-based VAD sessions.
type Engine struct{}

// New returns an energy VAD engine.
func New() *Engine { return &Engine{} }

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &session{floorDB: silenceFloorDB}, nil
}

var _ vad.Engine = (*Engine)(nil)

type session struct {
	mu sync.Mutex

	tracker vad.Tracker
	floorDB float64
	voiced  bool
	attack  int
	release int
	closed  bool
}

// ProcessFrame implements [vad.SessionHandle].
func (s *session) ProcessFrame(samples []int16) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(samples) == 0 {
		return vad.Event{Type: vad.Silence}, nil
	}

	levelDB := rmsDBFS(samples)

	// Track the floor only on quiet frames so speech does not drag it up.
	if !s.voiced && levelDB < s.floorDB+marginDB {
		s.floorDB += floorAlpha * (levelDB - s.floorDB)
		if s.floorDB < silenceFloorDB {
			s.floorDB = silenceFloorDB
		}
	}

	speechDB := s.floorDB + marginDB
	if s.voiced {
		if levelDB < speechDB-releaseDB {
			s.release++
			if s.release >= releaseFrames {
				s.voiced = false
				s.release = 0
			}
		} else {
			s.release = 0
		}
	} else {
		if levelDB >= speechDB {
			s.attack++
			if s.attack >= attackFrames {
				s.voiced = true
				s.attack = 0
			}
		} else {
			s.attack = 0
		}
	}

	prob := 0.0
	if s.voiced {
		prob = 1.0
	}
	return s.tracker.Observe(s.voiced, prob), nil
}

// Reset implements [vad.SessionHandle].
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker.Reset()
	s.floorDB = silenceFloorDB
	s.voiced = false
	s.attack = 0
	s.release = 0
}

// Close implements [vad.SessionHandle].
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// rmsDBFS returns the root-mean-square level of the frame in dB relative to
// full scale. Digital silence maps to -120 dBFS.
func rmsDBFS(samples []int16) float64 {
	var sum float64
	for _, v := range samples {
		f := float64(v) / 32768.0
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms <= 0 {
		return -120.0
	}
	db := 20 * math.Log10(rms)
	if db < -120 {
		db = -120
	}
	return db
}
