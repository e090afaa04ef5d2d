// Package capture implements the microphone capture engine: it owns an input
// device, pulls fixed-size frames on a steady cadence, encodes them as
// transport chunks, and hands each chunk to a caller-supplied handler in
// strict capture order.
//
// An [Engine] is an explicitly owned object with a new → Start → Stop
// lifecycle; multiple engines may exist in one process (e.g. in tests), but
// each holds its device exclusively while recording.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/parlodev/parlo/internal/observe"
	"github.com/parlodev/parlo/pkg/audio/codec"
	"github.com/parlodev/parlo/pkg/audio/device"
)

// State is the capture engine lifecycle state.
type State int

const (
	// StateIdle means no device is held and no frames are produced.
	StateIdle State = iota

	// StateAcquiring means Start is waiting on permission and device setup.
	StateAcquiring

	// StateRecording means frames are being produced and delivered.
	StateRecording

	// StatePaused means the device is held but frames are dropped. Pausing is
	// a hard mute of the pipeline, not a queue: nothing captured while paused
	// is ever delivered.
	StatePaused
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// ChunkHandler receives one encoded chunk per captured frame, in frame order,
// on the engine's capture goroutine. It must not block for extended periods.
type ChunkHandler func(codec.Chunk)

// Option configures an [Engine] during construction.
type Option func(*Engine)

// WithMetrics wires pipeline metrics into the engine. Without it the engine
// records nothing.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithStateListener registers fn to be invoked on every state transition.
// The callback runs outside the engine lock but may be called from the
// capture goroutine; it must not block.
func WithStateListener(fn func(State)) Option {
	return func(e *Engine) { e.stateListener = fn }
}

// Engine is the capture engine. All exported methods are safe for concurrent
// use. At most one capture loop runs per engine at a time.
type Engine struct {
	dev           device.InputDevice
	cfg           device.StreamConfig
	metrics       *observe.Metrics
	stateListener func(State)

	mu            sync.Mutex
	state         State
	stream        device.InputStream
	stopRequested bool // Stop arrived while still acquiring
	lastErr       error
	done          chan struct{}
	wg            sync.WaitGroup
}

// New creates an idle capture engine that will open dev with cfg on Start.
func New(dev device.InputDevice, cfg device.StreamConfig, opts ...Option) *Engine {
	e := &Engine{dev: dev, cfg: cfg}
	for _, o := range opts {
		o(e)
	}
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the error that most recently moved the engine to Idle, or nil.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Start acquires the microphone and begins producing frames. Once it returns
// nil, onChunk is invoked once per captured frame, in order, with no
// duplicates, until [Engine.Stop]. The supplied ctx governs device
// acquisition only (the OS permission prompt); it does not bound the
// recording itself.
//
// Device and permission failures abort Start and leave the engine Idle; the
// error wraps one of the [device] sentinels so callers can surface distinct
// messages.
func (e *Engine) Start(ctx context.Context, onChunk ChunkHandler) error {
	if onChunk == nil {
		return fmt.Errorf("capture: nil chunk handler")
	}

	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return fmt.Errorf("capture: already started (state %s)", e.state)
	}
	e.state = StateAcquiring
	e.stopRequested = false
	e.lastErr = nil
	e.mu.Unlock()
	e.notify(StateAcquiring)

	stream, err := e.dev.Open(ctx, e.cfg)

	e.mu.Lock()
	if err != nil {
		e.state = StateIdle
		e.lastErr = err
		e.mu.Unlock()
		e.notify(StateIdle)
		return fmt.Errorf("capture: acquire device: %w", err)
	}
	if e.stopRequested {
		// Stop raced the permission prompt: release the device and stay Idle.
		e.state = StateIdle
		e.mu.Unlock()
		_ = stream.Close()
		e.notify(StateIdle)
		return nil
	}

	e.stream = stream
	e.done = make(chan struct{})
	e.state = StateRecording
	done := e.done
	e.mu.Unlock()
	e.notify(StateRecording)

	e.wg.Add(1)
	go e.loop(stream, done, onChunk)
	return nil
}

// loop pulls frames from the stream until the stream closes or the engine
// stops. It is the only goroutine that invokes onChunk, which guarantees
// in-order, duplicate-free delivery.
func (e *Engine) loop(stream device.InputStream, done chan struct{}, onChunk ChunkHandler) {
	defer e.wg.Done()

	for {
		select {
		case <-done:
			return
		default:
		}

		frame, err := stream.Read()
		if err != nil {
			if errors.Is(err, device.ErrStreamClosed) {
				return
			}
			select {
			case <-done:
				return
			default:
			}
			slog.Warn("capture: device read failed, stopping", "err", err)
			e.abort(err)
			return
		}

		e.mu.Lock()
		paused := e.state == StatePaused
		e.mu.Unlock()
		if paused {
			// Hard mute: frames captured while paused are discarded.
			continue
		}

		if e.metrics != nil && e.metrics.FramesCaptured != nil {
			e.metrics.FramesCaptured.Add(context.Background(), 1)
		}
		onChunk(codec.Encode(frame))
	}
}

// abort tears the engine down from inside the capture goroutine after a
// mid-stream device failure.
func (e *Engine) abort(err error) {
	e.mu.Lock()
	if e.state != StateRecording && e.state != StatePaused {
		e.mu.Unlock()
		return
	}
	e.state = StateIdle
	e.lastErr = err
	stream := e.stream
	e.stream = nil
	close(e.done)
	e.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	e.notify(StateIdle)
}

// Pause suspends frame delivery without releasing the device or resetting
// the chunk handler. Frames physically captured while paused are dropped,
// never buffered. Pausing an already paused engine is a no-op.
func (e *Engine) Pause() error {
	e.mu.Lock()
	switch e.state {
	case StateRecording:
		e.state = StatePaused
	case StatePaused:
		e.mu.Unlock()
		return nil
	default:
		s := e.state
		e.mu.Unlock()
		return fmt.Errorf("capture: cannot pause while %s", s)
	}
	e.mu.Unlock()

	e.notify(StatePaused)
	return nil
}

// Resume restarts frame delivery after [Engine.Pause]. Resuming a recording
// engine is a no-op.
func (e *Engine) Resume() error {
	e.mu.Lock()
	switch e.state {
	case StatePaused:
		e.state = StateRecording
	case StateRecording:
		e.mu.Unlock()
		return nil
	default:
		s := e.state
		e.mu.Unlock()
		return fmt.Errorf("capture: cannot resume while %s", s)
	}
	e.mu.Unlock()

	e.notify(StateRecording)
	return nil
}

// Stop tears down the stream and releases the device. It is idempotent and
// safe to call from any state, including Idle (no-op) and while Start is
// still acquiring the device. When Stop returns, no further onChunk calls
// will be made.
func (e *Engine) Stop() error {
	e.mu.Lock()
	switch e.state {
	case StateIdle:
		e.mu.Unlock()
		return nil
	case StateAcquiring:
		e.stopRequested = true
		e.mu.Unlock()
		return nil
	}

	e.state = StateIdle
	stream := e.stream
	e.stream = nil
	close(e.done)
	e.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	e.wg.Wait()
	e.notify(StateIdle)
	return nil
}

// notify invokes the state listener outside the engine lock.
func (e *Engine) notify(s State) {
	if e.stateListener != nil {
		e.stateListener(s)
	}
}
