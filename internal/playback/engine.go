// Package playback implements the gapless playback engine: it owns an output
// device and a bounded FIFO queue of decoded audio buffers, and streams them
// back to back so that consecutive chunks sound like one continuous take.
//
// The scheduling invariant is a running cursor: each dequeued buffer starts
// at max(now, cursor) and the cursor advances by the buffer's duration. The
// queue is strictly FIFO — buffers never overlap and never reorder. A chunk
// that arrives after the cursor has passed plays immediately: an audible gap
// is acceptable, an overlap or glitch is not.
package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parlodev/parlo/internal/observe"
	"github.com/parlodev/parlo/pkg/audio"
	"github.com/parlodev/parlo/pkg/audio/codec"
	"github.com/parlodev/parlo/pkg/audio/device"
)

// DefaultMaxQueueDepth bounds the number of decoded buffers awaiting
// playback. At the reference cadence (4096 samples at 24 kHz) this is about
// 43 seconds of audio; a healthy sender never gets close.
const DefaultMaxQueueDepth = 256

// Option configures an [Engine] during construction.
type Option func(*Engine)

// WithClock substitutes the scheduler clock. Tests use this to drive virtual
// time; production uses the runtime monotonic clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithMetrics wires pipeline metrics into the engine. Without it the engine
// records nothing.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithMaxQueueDepth overrides [DefaultMaxQueueDepth]. When the queue is
// full, newly enqueued chunks are dropped and counted; audio already
// scheduled is never cut.
func WithMaxQueueDepth(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxQueue = n
		}
	}
}

// Engine is the playback engine. All exported methods are safe for
// concurrent use. One background dispatch goroutine owns the output stream
// and the scheduling cursor.
type Engine struct {
	dev      device.OutputDevice
	cfg      device.StreamConfig
	clock    Clock
	metrics  *observe.Metrics
	maxQueue int

	mu            sync.Mutex
	started       bool
	stream        device.OutputStream
	queue         []audio.Frame
	tEnd          time.Time     // scheduling cursor; zero means no cursor yet
	cancelPending chan struct{} // closed by Stop to abort a buffer waiting for its slot
	muted         bool
	volume        float64
	writing       bool

	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates a stopped playback engine that will open dev with cfg on
// Start. Volume starts at 1.0 and the engine unmuted.
func New(dev device.OutputDevice, cfg device.StreamConfig, opts ...Option) *Engine {
	e := &Engine{
		dev:      dev,
		cfg:      cfg,
		clock:    realClock{},
		maxQueue: DefaultMaxQueueDepth,
		volume:   1.0,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start opens the output device and launches the dispatch goroutine. The
// supplied ctx governs device acquisition only. Starting a started engine is
// an error.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("playback: already started")
	}
	e.mu.Unlock()

	stream, err := e.dev.Open(ctx, e.cfg)
	if err != nil {
		return fmt.Errorf("playback: acquire device: %w", err)
	}

	e.mu.Lock()
	e.started = true
	e.stream = stream
	e.queue = nil
	e.tEnd = time.Time{}
	e.notify = make(chan struct{}, 1)
	e.done = make(chan struct{})
	e.mu.Unlock()

	e.wg.Add(1)
	go e.dispatch(stream, e.done, e.notify)
	return nil
}

// Enqueue decodes chunk and appends it to the playback queue. A chunk that
// fails to decode is dropped and reported via the returned error (wrapping
// [codec.ErrMalformedChunk]); the engine itself stays healthy and later
// chunks play normally. While muted, chunks are decoded and then discarded.
func (e *Engine) Enqueue(chunk codec.Chunk) error {
	frame, err := codec.Decode(chunk)
	if err != nil {
		e.metrics.RecordDrop(context.Background(), "malformed")
		return fmt.Errorf("playback: %w", err)
	}
	if len(frame.Samples) == 0 {
		return nil
	}

	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return fmt.Errorf("playback: not started")
	}
	if e.muted {
		e.mu.Unlock()
		e.metrics.RecordDrop(context.Background(), "muted")
		return nil
	}
	if len(e.queue) >= e.maxQueue {
		e.mu.Unlock()
		e.metrics.RecordDrop(context.Background(), "overflow")
		slog.Debug("playback: queue full, chunk dropped", "depth", e.maxQueue)
		return nil
	}
	e.queue = append(e.queue, frame)
	notify := e.notify
	e.mu.Unlock()

	if e.metrics != nil && e.metrics.QueueDepth != nil {
		e.metrics.QueueDepth.Add(context.Background(), 1)
	}

	// Wake the dispatch goroutine.
	select {
	case notify <- struct{}{}:
	default:
	}
	return nil
}

// SetMuted toggles output muting. Muting discards chunks at enqueue time,
// after decoding; it never cuts audio that is already queued or playing, and
// unmuting only affects chunks enqueued afterwards.
func (e *Engine) SetMuted(muted bool) {
	e.mu.Lock()
	e.muted = muted
	e.mu.Unlock()
}

// Muted reports whether new chunks are being discarded.
func (e *Engine) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

// SetVolume sets the playback gain. Volume scales sample amplitude only and
// is independent of mute. Values outside [0, 1] are rejected.
func (e *Engine) SetVolume(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("playback: volume %v out of range [0, 1]", v)
	}
	e.mu.Lock()
	e.volume = v
	e.mu.Unlock()
	return nil
}

// Volume returns the current playback gain.
func (e *Engine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// Playing reports whether audio is queued or currently being written to the
// device.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writing || len(e.queue) > 0
}

// QueueDepth returns the number of buffers awaiting playback.
func (e *Engine) QueueDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Stop drops all pending buffers and resets the scheduling cursor, so the
// next enqueued chunk starts a fresh take. A buffer already being written to
// the device finishes; one still waiting for its scheduled slot is dropped.
// Stop is idempotent and leaves the engine started.
func (e *Engine) Stop() {
	e.mu.Lock()
	dropped := len(e.queue)
	e.queue = nil
	e.tEnd = time.Time{}
	if e.cancelPending != nil {
		close(e.cancelPending)
		e.cancelPending = nil
	}
	e.mu.Unlock()

	if dropped > 0 && e.metrics != nil && e.metrics.QueueDepth != nil {
		e.metrics.QueueDepth.Add(context.Background(), int64(-dropped))
	}
}

// Close stops playback, terminates the dispatch goroutine, and releases the
// output device. Idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	dropped := len(e.queue)
	e.queue = nil
	e.tEnd = time.Time{}
	if e.cancelPending != nil {
		close(e.cancelPending)
		e.cancelPending = nil
	}
	stream := e.stream
	e.stream = nil
	close(e.done)
	e.mu.Unlock()

	if dropped > 0 && e.metrics != nil && e.metrics.QueueDepth != nil {
		e.metrics.QueueDepth.Add(context.Background(), int64(-dropped))
	}

	e.wg.Wait()
	if stream != nil {
		_ = stream.Close()
	}
	return nil
}

// dispatch is the background goroutine that pops buffers from the queue and
// writes them to the output stream at their scheduled start times. It is the
// only goroutine that advances the cursor, which is what makes the
// no-overlap, no-reorder invariant hold.
func (e *Engine) dispatch(stream device.OutputStream, done chan struct{}, notify chan struct{}) {
	defer e.wg.Done()

	for {
		select {
		case <-done:
			return
		case <-notify:
		}

		for {
			frame, cancel, ok := e.dequeue()
			if !ok {
				break
			}

			if !e.waitForSlot(frame, done, cancel) {
				e.clearWriting()
				select {
				case <-done:
					return
				default:
					// Stop raced this buffer; drop it and keep dispatching.
					continue
				}
			}

			start := e.clock.Now()
			if err := stream.Write(e.applyGain(frame.Samples)); err != nil {
				slog.Warn("playback: device write failed", "err", err)
			}

			e.mu.Lock()
			e.tEnd = start.Add(frame.Duration())
			e.writing = false
			if e.cancelPending == cancel {
				e.cancelPending = nil
			}
			e.mu.Unlock()
		}
	}
}

// dequeue pops the oldest queued buffer and marks it in flight. Returns
// ok=false when the queue is empty.
func (e *Engine) dequeue() (frame audio.Frame, cancel chan struct{}, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.queue) == 0 {
		return audio.Frame{}, nil, false
	}
	frame = e.queue[0]
	e.queue = e.queue[1:]
	cancel = make(chan struct{})
	e.cancelPending = cancel
	e.writing = true

	if e.metrics != nil && e.metrics.QueueDepth != nil {
		e.metrics.QueueDepth.Add(context.Background(), -1)
	}
	return frame, cancel, true
}

// waitForSlot blocks until the buffer's scheduled start time, max(now, tEnd).
// A buffer arriving after the cursor plays immediately and its lateness is
// recorded. Returns false if the wait was aborted by Stop or Close.
func (e *Engine) waitForSlot(frame audio.Frame, done, cancel chan struct{}) bool {
	e.mu.Lock()
	tEnd := e.tEnd
	e.mu.Unlock()

	now := e.clock.Now()
	if tEnd.IsZero() || !tEnd.After(now) {
		if !tEnd.IsZero() && e.metrics != nil && e.metrics.SchedulingLateness != nil {
			e.metrics.SchedulingLateness.Record(context.Background(), now.Sub(tEnd).Seconds())
		}
		return true
	}

	select {
	case <-done:
		return false
	case <-cancel:
		return false
	case <-e.clock.After(tEnd.Sub(now)):
		if e.metrics != nil && e.metrics.SchedulingLateness != nil {
			e.metrics.SchedulingLateness.Record(context.Background(), 0)
		}
		return true
	}
}

// clearWriting resets the in-flight marker after a dropped buffer.
func (e *Engine) clearWriting() {
	e.mu.Lock()
	e.writing = false
	e.mu.Unlock()
}

// applyGain scales samples by the current volume. The input is never
// mutated; full gain returns it unchanged.
func (e *Engine) applyGain(samples []float32) []float32 {
	e.mu.Lock()
	v := e.volume
	e.mu.Unlock()

	if v == 1.0 {
		return samples
	}
	out := make([]float32, len(samples))
	gain := float32(v)
	for i, s := range samples {
		out[i] = s * gain
	}
	return out
}
