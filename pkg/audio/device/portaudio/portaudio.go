// Package portaudio provides [device.InputDevice] and [device.OutputDevice]
// implementations backed by PortAudio via gordonklaus/portaudio.
//
// Streams open at the requested pipeline rate when the hardware supports it;
// otherwise they fall back to the device's default rate and resample, so the
// engines always see 24 kHz mono frames. PortAudio exposes no capture
// enhancement controls, so the [device.StreamConfig] enhancement flags are
// accepted and ignored here.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/parlodev/parlo/pkg/audio"
	"github.com/parlodev/parlo/pkg/audio/device"
)

// Compile-time interface assertions.
var (
	_ device.InputDevice  = (*Input)(nil)
	_ device.OutputDevice = (*Output)(nil)
	_ device.InputStream  = (*inputStream)(nil)
	_ device.OutputStream = (*outputStream)(nil)
)

// defaultOutputFrames is the PortAudio buffer length (in samples) for output
// streams. Writes of arbitrary length are chunked into buffers of this size.
const defaultOutputFrames = 1024

// Input opens the system default capture device.
type Input struct{}

// NewInput creates a PortAudio-backed [device.InputDevice].
func NewInput() *Input { return &Input{} }

// Open implements [device.InputDevice]. It initialises PortAudio, locates the
// default input device and starts a mono capture stream at cfg.SampleRate,
// falling back to the hardware default rate with resampling when the
// requested rate is not supported.
func (d *Input) Open(ctx context.Context, cfg device.StreamConfig) (device.InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", translateErr(err))
	}

	info, err := pa.DefaultInputDevice()
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: %w: %v", device.ErrDeviceNotFound, err)
	}

	hwRate := cfg.SampleRate
	hwFrames := cfg.FrameSize
	buf := make([]float32, hwFrames)

	stream, err := pa.OpenDefaultStream(1, 0, float64(hwRate), hwFrames, buf)
	if rateUnsupported(err) {
		// Fall back to the hardware default rate; Read resamples to cfg.SampleRate.
		hwRate = int(info.DefaultSampleRate)
		hwFrames = fallbackFrames(cfg.FrameSize, cfg.SampleRate, hwRate)
		buf = make([]float32, hwFrames)
		slog.Warn("portaudio: capture rate unsupported, falling back to hardware default",
			"requested", cfg.SampleRate,
			"hardware", hwRate,
		)
		stream, err = pa.OpenDefaultStream(1, 0, float64(hwRate), hwFrames, buf)
	}
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: open capture stream: %w", translateErr(err))
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: start capture stream: %w", translateErr(err))
	}

	slog.Debug("portaudio capture started",
		"device", info.Name,
		"rate", hwRate,
		"frame_size", hwFrames,
	)

	return &inputStream{
		stream:       stream,
		buf:          buf,
		hwRate:       hwRate,
		pipelineRate: cfg.SampleRate,
	}, nil
}

type inputStream struct {
	stream       *pa.Stream
	buf          []float32
	hwRate       int
	pipelineRate int
	elapsed      time.Duration

	mu     sync.Mutex
	closed bool
}

// Read implements [device.InputStream].
func (s *inputStream) Read() (audio.Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return audio.Frame{}, device.ErrStreamClosed
	}
	s.mu.Unlock()

	if err := s.stream.Read(); err != nil {
		// Overflow means the host dropped samples between reads; the frame in
		// the buffer is still valid.
		if !errors.Is(err, pa.InputOverflowed) {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return audio.Frame{}, device.ErrStreamClosed
			}
			return audio.Frame{}, fmt.Errorf("portaudio: read: %w", translateErr(err))
		}
	}

	samples := make([]float32, len(s.buf))
	copy(samples, s.buf)
	if s.hwRate != s.pipelineRate {
		samples = audio.ResampleMono(samples, s.hwRate, s.pipelineRate)
	}

	frame := audio.Frame{
		Samples:    samples,
		SampleRate: s.pipelineRate,
		Timestamp:  s.elapsed,
	}
	s.elapsed += frame.Duration()
	return frame, nil
}

// Close implements [device.InputStream]. Idempotent.
func (s *inputStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.stream.Stop()
	if cerr := s.stream.Close(); err == nil {
		err = cerr
	}
	_ = pa.Terminate()
	return err
}

// Output opens the system default playback device.
type Output struct{}

// NewOutput creates a PortAudio-backed [device.OutputDevice].
func NewOutput() *Output { return &Output{} }

// Open implements [device.OutputDevice].
func (d *Output) Open(ctx context.Context, cfg device.StreamConfig) (device.OutputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", translateErr(err))
	}

	info, err := pa.DefaultOutputDevice()
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: %w: %v", device.ErrDeviceNotFound, err)
	}

	hwRate := cfg.SampleRate
	buf := make([]float32, defaultOutputFrames)

	stream, err := pa.OpenDefaultStream(0, 1, float64(hwRate), len(buf), buf)
	if rateUnsupported(err) {
		hwRate = int(info.DefaultSampleRate)
		slog.Warn("portaudio: playback rate unsupported, falling back to hardware default",
			"requested", cfg.SampleRate,
			"hardware", hwRate,
		)
		stream, err = pa.OpenDefaultStream(0, 1, float64(hwRate), len(buf), buf)
	}
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: open playback stream: %w", translateErr(err))
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: start playback stream: %w", translateErr(err))
	}

	slog.Debug("portaudio playback started", "device", info.Name, "rate", hwRate)

	return &outputStream{
		stream:       stream,
		buf:          buf,
		hwRate:       hwRate,
		pipelineRate: cfg.SampleRate,
	}, nil
}

type outputStream struct {
	stream       *pa.Stream
	buf          []float32
	hwRate       int
	pipelineRate int

	mu     sync.Mutex
	closed bool
}

// Write implements [device.OutputStream]. Samples are chunked into the
// PortAudio buffer; the final partial buffer is zero-padded. The blocking
// stream paces the caller at real time.
func (s *outputStream) Write(samples []float32) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return device.ErrStreamClosed
	}
	s.mu.Unlock()

	if s.hwRate != s.pipelineRate {
		samples = audio.ResampleMono(samples, s.pipelineRate, s.hwRate)
	}

	for off := 0; off < len(samples); off += len(s.buf) {
		n := copy(s.buf, samples[off:])
		for i := n; i < len(s.buf); i++ {
			s.buf[i] = 0
		}
		if err := s.stream.Write(); err != nil && !errors.Is(err, pa.OutputUnderflowed) {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return device.ErrStreamClosed
			}
			return fmt.Errorf("portaudio: write: %w", translateErr(err))
		}
	}
	return nil
}

// Close implements [device.OutputStream]. Idempotent.
func (s *outputStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.stream.Stop()
	if cerr := s.stream.Close(); err == nil {
		err = cerr
	}
	_ = pa.Terminate()
	return err
}

// fallbackFrames returns the per-read buffer length for a capture stream
// opened at hwRate such that resampling back to pipelineRate yields at least
// frameSize samples. The division rounds up: truncating would come up one
// pipeline sample short for most rate pairs (e.g. 4096 frames at 24 kHz on
// 44.1 kHz hardware).
func fallbackFrames(frameSize, pipelineRate, hwRate int) int {
	return (frameSize*hwRate + pipelineRate - 1) / pipelineRate
}

// rateUnsupported reports whether err indicates the requested sample rate or
// format cannot be opened on this hardware.
func rateUnsupported(err error) bool {
	var paErr pa.Error
	if !errors.As(err, &paErr) {
		return false
	}
	return paErr == pa.InvalidSampleRate || paErr == pa.SampleFormatNotSupported
}

// translateErr maps PortAudio failures onto the device error taxonomy so the
// engines can show distinct messages for permission, missing-device and busy
// conditions.
func translateErr(err error) error {
	if err == nil {
		return nil
	}

	// OS-level capture denial surfaces as an unanticipated host error on the
	// platforms that gate microphone access.
	var hostErr pa.UnanticipatedHostError
	if errors.As(err, &hostErr) {
		return fmt.Errorf("%w: %s", device.ErrPermissionDenied, hostErr.Text)
	}

	var paErr pa.Error
	if errors.As(err, &paErr) {
		switch paErr {
		case pa.DeviceUnavailable:
			return fmt.Errorf("%w: %v", device.ErrDeviceBusy, err)
		case pa.InvalidDevice, pa.InvalidChannelCount, pa.BadIODeviceCombination:
			return fmt.Errorf("%w: %v", device.ErrDeviceNotFound, err)
		}
	}
	return err
}
