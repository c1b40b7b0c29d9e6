package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAV container helpers for the synthesis cache. Decoding walks the RIFF
// chunk list instead of assuming a 44-byte header because the fmt chunk
// size varies between encoders; encoding always writes the canonical
// 16-byte PCM fmt chunk.

// EncodeWAV wraps mono 16-bit samples in a RIFF/WAVE container.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	dataLen := len(samples) * 2
	out := make([]byte, 44+dataLen)

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataLen))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], 1) // mono
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(out[32:34], 2)  // block align
	binary.LittleEndian.PutUint16(out[34:36], 16) // bits per sample

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataLen))
	copy(out[44:], Int16ToBytes(samples))
	return out
}

// DecodeWAV extracts 16-bit PCM samples and the sample rate from a
// RIFF/WAVE container. Stereo input is downmixed to mono.
func DecodeWAV(wav []byte) ([]int16, int, error) {
	if len(wav) < 12 {
		return nil, 0, errors.New("audio: wav too short for a RIFF header")
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, 0, errors.New("audio: not a RIFF/WAVE container")
	}

	var (
		sampleRate int
		channels   int
		foundFmt   bool
	)

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || body+16 > len(wav) {
				return nil, 0, errors.New("audio: wav fmt chunk truncated")
			}
			channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return nil, 0, errors.New("audio: wav data chunk precedes fmt chunk")
			}
			end := body + chunkSize
			if end > len(wav) {
				end = len(wav)
			}
			samples := BytesToInt16(wav[body:end])
			switch channels {
			case 1:
			case 2:
				samples = StereoToMono(samples)
			default:
				return nil, 0, fmt.Errorf("audio: unsupported wav channel count %d", channels)
			}
			return samples, sampleRate, nil
		}

		// Chunks are word-aligned: odd sizes carry a pad byte.
		offset = body + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return nil, 0, errors.New("audio: wav data chunk not found")
}
