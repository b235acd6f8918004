package storage

import (
	"encoding/binary"
	"strings"
)

// WAV container constants. The voice endpoint emits raw 16-bit mono PCM at
// 24 kHz; wrapping it in a 44-byte RIFF header makes stored audio playable
// without a custom decoder.
const (
	wavHeaderSize      = 44
	wavFmtChunkSize    = 16
	wavChunkSizeOffset = 36 // RIFF chunk size = data length + this
	audioBitsPerByte   = 8

	// DefaultSampleRate is the endpoint's PCM sample rate in Hz.
	DefaultSampleRate = 24000
	// DefaultBitDepth is the endpoint's PCM bit depth.
	DefaultBitDepth = 16
	// DefaultChannels is the endpoint's channel count.
	DefaultChannels = 1
)

// IsRawPCM reports whether the content type carries raw PCM that should be
// wrapped in a WAV container on store.
func IsRawPCM(contentType string) bool {
	return strings.HasPrefix(contentType, "audio/pcm") ||
		strings.HasPrefix(contentType, "audio/L16")
}

// WrapPCM prepends a WAV header to raw PCM data. Zero parameters fall back
// to the endpoint defaults.
func WrapPCM(pcm []byte, sampleRate, channels, bitDepth int) []byte {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if channels <= 0 {
		channels = DefaultChannels
	}
	if bitDepth <= 0 {
		bitDepth = DefaultBitDepth
	}

	blockAlign := channels * bitDepth / audioBitsPerByte
	byteRate := sampleRate * blockAlign

	buf := make([]byte, wavHeaderSize+len(pcm))

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(wavChunkSizeOffset+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], wavFmtChunkSize)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM format
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bitDepth))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))

	copy(buf[wavHeaderSize:], pcm)
	return buf
}
