// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify session configuration and Session to script per-frame
// detection results.
//
// Example:
//
//	sess := &mock.Session{Script: []vad.Event{
//	    {Type: vad.SpeechStart, Probability: 0.9},
//	    {Type: vad.SpeechContinue, Probability: 0.9},
//	}}
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"sync"

	"github.com/urecho/urecho/pkg/provider/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is returned by NewSession. If nil, a fresh default Session is
	// returned instead.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records the Config of every call to NewSession.
	NewSessionCalls []vad.Config
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// Session is a scripted implementation of vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	// Script is the sequence of events returned by successive ProcessFrame
	// calls. Once exhausted, Default is returned.
	Script []vad.Event

	// Default is returned when Script is exhausted or empty.
	Default vad.Event

	// ProcessErr, if non-nil, is returned as the error from ProcessFrame.
	ProcessErr error

	// Frames records a copy of every frame passed to ProcessFrame.
	Frames [][]int16

	// ResetCalls counts invocations of Reset.
	ResetCalls int

	// CloseCalls counts invocations of Close.
	CloseCalls int

	cursor int
}

// ProcessFrame records the frame and returns the next scripted event.
func (s *Session) ProcessFrame(samples []int16) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames = append(s.Frames, append([]int16(nil), samples...))
	if s.ProcessErr != nil {
		return vad.Event{}, s.ProcessErr
	}
	if s.cursor < len(s.Script) {
		ev := s.Script[s.cursor]
		s.cursor++
		return ev, nil
	}
	return s.Default, nil
}

// Reset records the call and rewinds the script.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCalls++
	s.cursor = 0
}

// Close records the call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	return nil
}

// Ensure Session implements vad.SessionHandle at compile time.
var _ vad.SessionHandle = (*Session)(nil)
