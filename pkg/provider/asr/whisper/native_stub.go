//go:build !whispercpp

package whisper

import (
	"log/slog"

	"github.com/urecho/urecho/pkg/provider/asr"
)

// NewNative reports that this build carries no whisper.cpp linkage.
// Rebuild with -tags whispercpp for in-process inference.
func NewNative(NativeConfig, *slog.Logger) (asr.Transcriber, error) {
	return nil, ErrNativeDisabled
}
