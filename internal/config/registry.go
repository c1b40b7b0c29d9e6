package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/urecho/urecho/pkg/audio"
	"github.com/urecho/urecho/pkg/provider/gen"
	"github.com/urecho/urecho/pkg/provider/tts"
	"github.com/urecho/urecho/pkg/provider/vad"
)

// ErrBackendNotRegistered is returned by Create* methods when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// Factory signatures per concern. TTS factories receive the playback sink
// they speak through. Audio factories return the capture side and, when the
// backend can play too, the playback side; a nil player means the caller
// must bring its own.
type (
	GenFactory   func(GenBackendConfig) (gen.Generator, error)
	TTSFactory   func(TTSConfig, audio.Player) (tts.Synthesizer, error)
	VADFactory   func(VADConfig) (vad.Engine, error)
	AudioFactory func(AudioConfig) (audio.Capture, audio.Player, error)
)

// Registry maps backend names to their constructor functions for each
// concern. It is safe for concurrent use.
//
// Wake engines are not registered here: they are built as a cascade with
// cross-cutting dependencies (capture, transcriber) that no single factory
// signature covers well.
type Registry struct {
	mu    sync.RWMutex
	gen   map[string]GenFactory
	tts   map[string]TTSFactory
	vad   map[string]VADFactory
	audio map[string]AudioFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		gen:   make(map[string]GenFactory),
		tts:   make(map[string]TTSFactory),
		vad:   make(map[string]VADFactory),
		audio: make(map[string]AudioFactory),
	}
}

// RegisterGen registers a reply backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterGen(name string, factory GenFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen[name] = factory
}

// RegisterTTS registers a synthesis backend factory under name.
func (r *Registry) RegisterTTS(name string, factory TTSFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterVAD registers a voice activity detector factory under name.
func (r *Registry) RegisterVAD(name string, factory VADFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterAudio registers an audio backend factory under name.
func (r *Registry) RegisterAudio(name string, factory AudioFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateGen instantiates a reply backend using the factory registered under
// entry.Name. Returns [ErrBackendNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateGen(entry GenBackendConfig) (gen.Generator, error) {
	r.mu.RLock()
	factory, ok := r.gen[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: gen/%q", ErrBackendNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a synthesis backend using the factory registered
// under cfg.Backend, speaking through player.
func (r *Registry) CreateTTS(cfg TTSConfig, player audio.Player) (tts.Synthesizer, error) {
	r.mu.RLock()
	factory, ok := r.tts[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(cfg, player)
}

// CreateVAD instantiates a voice activity detector using the factory
// registered under cfg.Backend.
func (r *Registry) CreateVAD(cfg VADConfig) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// CreateAudio instantiates an audio backend using the factory registered
// under cfg.Backend.
func (r *Registry) CreateAudio(cfg AudioConfig) (audio.Capture, audio.Player, error) {
	r.mu.RLock()
	factory, ok := r.audio[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: audio/%q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}
