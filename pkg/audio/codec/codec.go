// Package codec converts between pipeline audio frames and the transport
// wire format: 16-bit signed little-endian PCM wrapped in standard base64,
// one chunk per frame.
//
// The codec is a lossless transcoding layer, not a compressor: decoding a
// chunk reproduces the original PCM16 samples exactly. Both directions are
// pure functions with no I/O and no shared state.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/parlodev/parlo/pkg/audio"
)

// Chunk is one discrete unit of encoded audio handed across the transport
// boundary: base64 text over PCM16 little-endian bytes. Chunks are opaque to
// the transport — ordering across the stream is the only contract.
type Chunk string

// ErrMalformedChunk is returned by [Decode] when a chunk is not valid base64
// or its decoded byte length is not a multiple of the sample width. Malformed
// chunks are dropped by callers; they never tear down a session.
var ErrMalformedChunk = errors.New("codec: malformed chunk")

// Encode quantizes the frame's samples to PCM16 and wraps them in base64.
// It has no failure modes: out-of-range samples are clamped during
// quantization.
func Encode(frame audio.Frame) Chunk {
	return Chunk(base64.StdEncoding.EncodeToString(audio.QuantizePCM16(frame.Samples)))
}

// Decode reverses [Encode], producing a frame at the pipeline sample rate.
// The chunk's frame size is whatever the sender produced — playback does not
// require the capture frame size.
func Decode(chunk Chunk) (audio.Frame, error) {
	pcm, err := base64.StdEncoding.DecodeString(string(chunk))
	if err != nil {
		return audio.Frame{}, fmt.Errorf("%w: %v", ErrMalformedChunk, err)
	}
	if len(pcm)%2 != 0 {
		return audio.Frame{}, fmt.Errorf("%w: %d bytes is not a whole number of samples", ErrMalformedChunk, len(pcm))
	}
	return audio.Frame{
		Samples:    audio.DequantizePCM16(pcm),
		SampleRate: audio.SampleRate,
	}, nil
}
