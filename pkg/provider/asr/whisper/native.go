package whisper

import "errors"

// ErrNativeDisabled is returned by NewNative in builds without the
// whispercpp tag.
var ErrNativeDisabled = errors.New("whisper: native inference requires the whispercpp build tag")

// NativeConfig configures the in-process whisper.cpp variant. It exists in
// every build so callers can wire it unconditionally, but NewNative only
// works in builds with the whispercpp tag; everywhere else it returns
// ErrNativeDisabled and the HTTP client is the available backend.
type NativeConfig struct {
	// ModelPath is the GGML model file to load. Required.
	ModelPath string

	// Primary and Secondary are the two languages bilingual calls
	// arbitrate between. Default "en" and "ro".
	Primary   string
	Secondary string

	// FilterRMS is the silence gate in 16-bit PCM units. Defaults to
	// 300; negative disables the gate.
	FilterRMS float64
}

func (c NativeConfig) withDefaults() NativeConfig {
	if c.Primary == "" {
		c.Primary = "en"
	}
	if c.Secondary == "" {
		c.Secondary = "ro"
	}
	if c.FilterRMS == 0 {
		c.FilterRMS = defaultFilterRMS
	}
	return c
}
