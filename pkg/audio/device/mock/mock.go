// Package mock provides in-memory implementations of the [device.InputDevice]
// and [device.OutputDevice] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so that tests
// can assert on call counts and arguments, and they expose exported fields
// the test can set to control return values.
//
// Typical usage:
//
//	in := mock.NewInput()
//	in.QueueFrames(frame1, frame2)
//	stream, err := in.Open(ctx, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/parlodev/parlo/pkg/audio"
	"github.com/parlodev/parlo/pkg/audio/device"
)

// Compile-time interface assertions.
var (
	_ device.InputDevice  = (*Input)(nil)
	_ device.OutputDevice = (*Output)(nil)
)

// ─── Input ────────────────────────────────────────────────────────────────────

// Input is a mock [device.InputDevice]. Frames queued via [Input.QueueFrames]
// are delivered by Read in order; Read blocks when the queue is empty until
// more frames arrive or the stream is closed.
type Input struct {
	mu sync.Mutex

	// OpenError is returned by Open when non-nil (e.g. to simulate
	// device.ErrPermissionDenied).
	OpenError error

	// OpenCalls records the StreamConfig of every Open invocation.
	OpenCalls []device.StreamConfig

	stream  *InputStream
	pending []audio.Frame
}

// NewInput creates an empty mock input device.
func NewInput() *Input { return &Input{} }

// Open implements [device.InputDevice].
func (d *Input) Open(_ context.Context, cfg device.StreamConfig) (device.InputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.OpenCalls = append(d.OpenCalls, cfg)
	if d.OpenError != nil {
		return nil, d.OpenError
	}

	s := &InputStream{
		frames: make(chan audio.Frame, 256),
		closed: make(chan struct{}),
	}
	d.stream = s
	// Flush frames queued before Open.
	for _, f := range d.pending {
		s.frames <- f
	}
	d.pending = nil
	return s, nil
}

// QueueFrames appends frames for delivery through the open stream (or the
// next stream opened).
func (d *Input) QueueFrames(frames ...audio.Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream != nil {
		for _, f := range frames {
			select {
			case d.stream.frames <- f:
			case <-d.stream.closed:
				return
			}
		}
		return
	}
	d.pending = append(d.pending, frames...)
}

// Stream returns the stream created by the most recent Open, or nil.
func (d *Input) Stream() *InputStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream
}

// InputStream is the [device.InputStream] produced by [Input.Open].
type InputStream struct {
	frames chan audio.Frame
	closed chan struct{}

	mu         sync.Mutex
	readCount  int
	closeCount int
}

// Read implements [device.InputStream]. It blocks until a queued frame is
// available or the stream is closed.
func (s *InputStream) Read() (audio.Frame, error) {
	select {
	case f := <-s.frames:
		s.mu.Lock()
		s.readCount++
		s.mu.Unlock()
		return f, nil
	case <-s.closed:
		return audio.Frame{}, device.ErrStreamClosed
	}
}

// ReadCount reports how many frames have been delivered through Read. Use
// this in tests to wait until the engine has consumed a queued frame.
func (s *InputStream) ReadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readCount
}

// Close implements [device.InputStream]. Idempotent.
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	if s.closeCount == 1 {
		close(s.closed)
	}
	return nil
}

// CloseCount reports how many times Close was called.
func (s *InputStream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

// ─── Output ───────────────────────────────────────────────────────────────────

// Output is a mock [device.OutputDevice] that records every buffer written to
// its stream.
type Output struct {
	mu sync.Mutex

	// OpenError is returned by Open when non-nil (e.g. to simulate
	// device.ErrDeviceNotFound).
	OpenError error

	// OpenCalls records the StreamConfig of every Open invocation.
	OpenCalls []device.StreamConfig

	stream *OutputStream
}

// NewOutput creates an empty mock output device.
func NewOutput() *Output { return &Output{} }

// Open implements [device.OutputDevice].
func (d *Output) Open(_ context.Context, cfg device.StreamConfig) (device.OutputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.OpenCalls = append(d.OpenCalls, cfg)
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	s := &OutputStream{written: make(chan []float32, 256)}
	d.stream = s
	return s, nil
}

// Stream returns the stream created by the most recent Open, or nil.
func (d *Output) Stream() *OutputStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream
}

// OutputStream is the [device.OutputStream] produced by [Output.Open].
type OutputStream struct {
	written chan []float32

	mu         sync.Mutex
	buffers    [][]float32
	closeCount int
}

// Write implements [device.OutputStream]. The buffer is copied and recorded.
func (s *OutputStream) Write(samples []float32) error {
	s.mu.Lock()
	if s.closeCount > 0 {
		s.mu.Unlock()
		return device.ErrStreamClosed
	}
	cp := make([]float32, len(samples))
	copy(cp, samples)
	s.buffers = append(s.buffers, cp)
	s.mu.Unlock()

	select {
	case s.written <- cp:
	default:
	}
	return nil
}

// Close implements [device.OutputStream]. Idempotent.
func (s *OutputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	return nil
}

// Written returns a channel receiving each buffer as it is written. Use this
// in tests to wait for playback to reach the device.
func (s *OutputStream) Written() <-chan []float32 { return s.written }

// Buffers returns a snapshot of all buffers written so far, in write order.
func (s *OutputStream) Buffers() [][]float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]float32, len(s.buffers))
	copy(out, s.buffers)
	return out
}

// CloseCount reports how many times Close was called.
func (s *OutputStream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}
