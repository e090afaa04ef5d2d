// Package device defines the interfaces for audio input and output devices
// used by the Parlo capture and playback engines.
//
// The two primary abstractions are:
//
//   - [InputDevice] / [InputStream] — acquire a microphone and pull frames on
//     a steady cadence.
//   - [OutputDevice] / [OutputStream] — acquire a speaker and push sample
//     buffers for rendering.
//
// Implementations are provided by adapter subpackages (e.g., device/portaudio
// for real hardware, device/mock for tests). The interfaces are intentionally
// narrow to keep the engines decoupled from the host audio API.
//
// This package lives under pkg/ because external code (alternative device
// backends) is expected to implement these interfaces.
package device

import (
	"context"
	"errors"

	"github.com/parlodev/parlo/pkg/audio"
)

// Device acquisition errors. Adapters translate host-API failures into these
// sentinels so the engines can surface distinct user-facing messages.
var (
	// ErrPermissionDenied indicates the OS refused microphone access.
	ErrPermissionDenied = errors.New("device: microphone permission denied")

	// ErrDeviceNotFound indicates no suitable audio device exists.
	ErrDeviceNotFound = errors.New("device: no audio device found")

	// ErrDeviceBusy indicates the device exists but is held by another process.
	ErrDeviceBusy = errors.New("device: audio device busy")

	// ErrStreamClosed is returned by Read/Write after the stream is closed.
	ErrStreamClosed = errors.New("device: stream closed")
)

// StreamConfig describes the stream an engine wants to open.
type StreamConfig struct {
	// SampleRate in Hz. Adapters that cannot open the requested rate open the
	// hardware default rate and resample.
	SampleRate int

	// FrameSize is the number of samples delivered per Read (capture side).
	// Ignored by output streams, which accept whatever arrives per Write.
	FrameSize int

	// NoiseSuppression, EchoCancellation and AutoGain request the matching
	// platform capture enhancements where the host API exposes them. Adapters
	// silently ignore requests the platform cannot honour.
	NoiseSuppression bool
	EchoCancellation bool
	AutoGain         bool
}

// InputDevice is the entry point for a microphone backend.
//
// Implementations must be safe for concurrent use.
type InputDevice interface {
	// Open acquires exclusive hold of the capture device and starts the
	// hardware stream. The supplied ctx governs the acquisition phase only
	// (permission prompts, device discovery); once returned, the stream
	// remains live until [InputStream.Close].
	//
	// Fails with [ErrPermissionDenied], [ErrDeviceNotFound] or [ErrDeviceBusy]
	// (possibly wrapped) when acquisition is impossible.
	Open(ctx context.Context, cfg StreamConfig) (InputStream, error)
}

// InputStream is a live microphone stream.
type InputStream interface {
	// Read blocks until the next frame of cfg.FrameSize samples has been
	// captured and returns it at the configured sample rate, in strict
	// capture order. Returns [ErrStreamClosed] after Close.
	Read() (audio.Frame, error)

	// Close stops the hardware stream and releases the device. Idempotent.
	Close() error
}

// OutputDevice is the entry point for a speaker backend.
//
// Implementations must be safe for concurrent use.
type OutputDevice interface {
	// Open acquires the output device. The supplied ctx governs the
	// acquisition phase only.
	Open(ctx context.Context, cfg StreamConfig) (OutputStream, error)
}

// OutputStream is a live speaker stream.
type OutputStream interface {
	// Write renders the given mono samples at the configured sample rate.
	// It blocks until the samples have been handed to the device, which
	// paces a continuous caller at real time. Returns [ErrStreamClosed]
	// after Close.
	Write(samples []float32) error

	// Close stops rendering and releases the device. Idempotent.
	Close() error
}
