// Package audio defines the sample types and PCM16 transforms shared by the
// Parlo capture and playback pipeline.
//
// The pipeline format is fixed: mono, 24000 Hz, 16-bit signed little-endian
// PCM on the wire, float32 samples in [-1, 1] in memory. Capture produces
// [Frame] values on a steady cadence; the codec package turns them into
// transport chunks and back.
//
// This package lives under pkg/ because device adapters (see
// [github.com/parlodev/parlo/pkg/audio/device]) are expected to produce and
// consume these types.
package audio

import "time"

const (
	// SampleRate is the fixed pipeline sample rate in Hz.
	SampleRate = 24000

	// FrameSize is the number of samples per captured frame (~170 ms at 24 kHz).
	FrameSize = 4096

	// Channels is the fixed channel count. The pipeline is mono end to end.
	Channels = 1
)

// Frame is a fixed-cadence buffer of mono samples flowing through the
// pipeline. Frames are transient: the capture engine owns a frame only for
// the duration of one callback, and the playback engine owns a decoded frame
// from enqueue until the end of its scheduled window.
type Frame struct {
	// Samples holds mono samples in [-1, 1]. Values outside the range are
	// clamped during PCM16 quantization.
	Samples []float32

	// SampleRate in Hz. Always [SampleRate] inside the pipeline; device
	// adapters may carry their hardware rate here before resampling.
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame at its sample rate.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}
