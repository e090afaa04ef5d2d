// Package session implements the voice session coordinator: the glue that
// wires the capture engine's output into the transport channel and the
// channel's inbound audio into the playback engine.
//
// A [Coordinator] runs one session at a time. Dictation sessions capture and
// transcribe only; discussion sessions are full duplex, with the assistant's
// replies played back gaplessly. Transport loss is handled by the
// [Reconnector]: the session stays up and the channel is redialed with
// exponential backoff.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parlodev/parlo/internal/capture"
	"github.com/parlodev/parlo/internal/observe"
	"github.com/parlodev/parlo/internal/playback"
	"github.com/parlodev/parlo/internal/transport"
	"github.com/parlodev/parlo/pkg/audio"
	"github.com/parlodev/parlo/pkg/audio/codec"
)

// Mode selects what a session does with the two directions of audio.
type Mode int

const (
	// ModeDictation captures and transcribes microphone audio only; inbound
	// audio is not played.
	ModeDictation Mode = iota

	// ModeDiscussion is full duplex: microphone audio goes out, assistant
	// audio is played back.
	ModeDiscussion
)

// String returns the human-readable name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeDictation:
		return "dictation"
	case ModeDiscussion:
		return "discussion"
	default:
		return "unknown"
	}
}

// State is the coordinator lifecycle state.
type State int

const (
	// StateIdle means no session is running.
	StateIdle State = iota

	// StateConnecting means the transport channel is being dialed.
	StateConnecting

	// StateActive means audio is flowing.
	StateActive
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time view of the session, safe to read from any
// goroutine.
type Snapshot struct {
	State   State
	Mode    Mode
	Capture capture.State
	Playing bool
	Muted   bool
	Volume  float64
	LastErr error
}

// Option configures a [Coordinator] during construction.
type Option func(*Coordinator)

// WithMetrics wires pipeline metrics into the coordinator.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithTranscriptHandler registers fn to receive every transcript entry from
// the transport. The callback runs on the coordinator's transcript goroutine
// and must not block.
func WithTranscriptHandler(fn func(transport.Transcript)) Option {
	return func(c *Coordinator) { c.onTranscript = fn }
}

// WithStateListener registers fn to be invoked with a fresh [Snapshot] on
// every coordinator state change.
func WithStateListener(fn func(Snapshot)) Option {
	return func(c *Coordinator) { c.stateListener = fn }
}

// WithReconnectPolicy overrides the redial retry policy used after
// transport loss. Zero values keep the defaults.
func WithReconnectPolicy(maxRetries int, backoff, maxBackoff time.Duration) Option {
	return func(c *Coordinator) {
		c.reconMaxRetries = maxRetries
		c.reconBackoff = backoff
		c.reconMaxBackoff = maxBackoff
	}
}

// Coordinator wires one capture engine, one playback engine and one
// transport dialer into a voice session. All exported methods are safe for
// concurrent use.
type Coordinator struct {
	dialer        transport.Dialer
	capture       *capture.Engine
	playback      *playback.Engine
	sessionCfg    transport.SessionConfig
	metrics       *observe.Metrics
	onTranscript  func(transport.Transcript)
	stateListener func(Snapshot)

	reconMaxRetries int
	reconBackoff    time.Duration
	reconMaxBackoff time.Duration

	mu        sync.Mutex
	state     State
	mode      Mode
	channel   transport.Channel
	recon     *Reconnector
	runCancel context.CancelFunc
	lastErr   error
	stopping  bool
	pumpWG    sync.WaitGroup
}

// New creates an idle coordinator.
func New(dialer transport.Dialer, cap *capture.Engine, play *playback.Engine, sessionCfg transport.SessionConfig, opts ...Option) *Coordinator {
	c := &Coordinator{
		dialer:     dialer,
		capture:    cap,
		playback:   play,
		sessionCfg: sessionCfg,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start dials the transport and brings the audio pipeline up in the given
// mode. On any failure everything acquired so far is released and the
// coordinator returns to Idle. Starting a non-idle coordinator is an error.
func (c *Coordinator) Start(ctx context.Context, mode Mode) error {
	c.mu.Lock()
	if c.state != StateIdle {
		s := c.state
		c.mu.Unlock()
		return fmt.Errorf("session: already started (state %s)", s)
	}
	c.state = StateConnecting
	c.mode = mode
	c.lastErr = nil
	c.stopping = false
	c.mu.Unlock()
	c.notifyState()

	recon := NewReconnector(ReconnectorConfig{
		Dialer:      c.dialer,
		Session:     c.sessionCfg,
		MaxRetries:  c.reconMaxRetries,
		Backoff:     c.reconBackoff,
		MaxBackoff:  c.reconMaxBackoff,
		OnReconnect: c.handleReconnect,
	})

	ch, err := recon.Connect(ctx)
	if err != nil {
		c.failStart(err)
		return fmt.Errorf("session: connect: %w", err)
	}

	if mode == ModeDiscussion {
		if err := c.playback.Start(ctx); err != nil {
			closeChannel(ch)
			c.failStart(err)
			return fmt.Errorf("session: start playback: %w", err)
		}
	}

	if err := c.capture.Start(ctx, c.sendChunk); err != nil {
		if mode == ModeDiscussion {
			_ = c.playback.Close()
		}
		closeChannel(ch)
		c.failStart(err)
		return fmt.Errorf("session: start capture: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.channel = ch
	c.recon = recon
	c.runCancel = cancel
	c.state = StateActive
	c.mu.Unlock()

	ch.OnError(func(err error) {
		slog.Warn("session: service reported error", "err", err)
	})
	recon.Monitor(runCtx)
	c.startPumps(ch)

	if c.metrics != nil && c.metrics.ActiveSessions != nil {
		c.metrics.ActiveSessions.Add(context.Background(), 1)
	}
	slog.Info("session started", "mode", mode.String())
	c.notifyState()
	return nil
}

// closeChannel closes ch and drains its streams, so a channel torn down
// before its pumps started does not strand buffered events.
func closeChannel(ch transport.Channel) {
	_ = ch.Close()
	audio.Drain(ch.Audio())
	audio.Drain(ch.Transcripts())
}

// failStart records err and returns the coordinator to Idle.
func (c *Coordinator) failStart(err error) {
	c.mu.Lock()
	c.state = StateIdle
	c.lastErr = err
	c.mu.Unlock()
	c.notifyState()
}

// Stop tears the session down: capture first so no more chunks go out, then
// the transport, then playback. Idempotent; safe from any state. Pending
// playback is dropped.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return nil
	}
	c.state = StateIdle
	c.stopping = true
	mode := c.mode
	recon := c.recon
	cancel := c.runCancel
	c.channel = nil
	c.recon = nil
	c.runCancel = nil
	c.mu.Unlock()

	_ = c.capture.Stop()
	if cancel != nil {
		cancel()
	}
	if recon != nil {
		_ = recon.Stop()
	}
	c.pumpWG.Wait()

	if mode == ModeDiscussion {
		c.playback.Stop()
		_ = c.playback.Close()
	}

	if c.metrics != nil && c.metrics.ActiveSessions != nil {
		c.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	slog.Info("session stopped", "mode", mode.String())
	c.notifyState()
	return nil
}

// PauseCapture suspends microphone delivery; captured frames are dropped
// while paused, never buffered.
func (c *Coordinator) PauseCapture() error { return c.capture.Pause() }

// ResumeCapture restarts microphone delivery after PauseCapture.
func (c *Coordinator) ResumeCapture() error { return c.capture.Resume() }

// SetMuted toggles playback muting. While muted, inbound chunks are
// discarded after decode; unmuting affects only chunks that arrive later.
func (c *Coordinator) SetMuted(muted bool) { c.playback.SetMuted(muted) }

// Muted reports whether playback is muted.
func (c *Coordinator) Muted() bool { return c.playback.Muted() }

// SetVolume sets the playback gain in [0, 1].
func (c *Coordinator) SetVolume(v float64) error { return c.playback.SetVolume(v) }

// Volume returns the playback gain.
func (c *Coordinator) Volume() float64 { return c.playback.Volume() }

// Interrupt asks the service to stop the in-flight assistant response and
// drops any audio already queued locally, so the user gets silence at once.
func (c *Coordinator) Interrupt() error {
	c.mu.Lock()
	ch := c.channel
	mode := c.mode
	c.mu.Unlock()

	if ch == nil {
		return fmt.Errorf("session: not active")
	}
	if mode == ModeDiscussion {
		c.playback.Stop()
	}
	return ch.Interrupt()
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a point-in-time view of the whole pipeline.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		State:   c.state,
		Mode:    c.mode,
		LastErr: c.lastErr,
	}
	c.mu.Unlock()

	snap.Capture = c.capture.State()
	snap.Playing = c.playback.Playing()
	snap.Muted = c.playback.Muted()
	snap.Volume = c.playback.Volume()
	return snap
}

// sendChunk is the capture engine's chunk handler: it forwards each encoded
// chunk to the current transport channel. Send failures cost the chunk, not
// the session.
func (c *Coordinator) sendChunk(chunk codec.Chunk) {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()

	if ch == nil {
		// Between transport loss and redial; the chunk is lost.
		return
	}
	if err := ch.Send(chunk); err != nil {
		slog.Warn("session: send failed", "err", err)
		return
	}
	if c.metrics != nil && c.metrics.ChunksSent != nil {
		c.metrics.ChunksSent.Add(context.Background(), 1)
	}
}

// startPumps launches the goroutines moving inbound traffic off ch. The
// pumpWG registration happens under the coordinator lock: a concurrent Stop
// either sees the pumps in its Wait or, having already set stopping, prevents
// them from starting at all — the pump count never rises from zero while
// Stop is waiting.
func (c *Coordinator) startPumps(ch transport.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopping {
		return
	}
	c.pumpWG.Add(2)
	go c.pumpAudio(ch)
	go c.pumpTranscripts(ch)
}

// pumpAudio moves inbound audio into the playback queue until the channel
// terminates. If the termination was a connection failure, it hands the
// session to the reconnector instead of tearing it down.
func (c *Coordinator) pumpAudio(ch transport.Channel) {
	defer c.pumpWG.Done()

	for chunk := range ch.Audio() {
		if c.metrics != nil && c.metrics.ChunksReceived != nil {
			c.metrics.ChunksReceived.Add(context.Background(), 1)
		}

		c.mu.Lock()
		mode := c.mode
		c.mu.Unlock()
		if mode != ModeDiscussion {
			continue
		}

		if err := c.playback.Enqueue(chunk); err != nil {
			slog.Warn("session: inbound chunk dropped", "err", err)
		}
	}

	err := ch.Err()
	if err == nil {
		return
	}
	c.mu.Lock()
	stopping := c.stopping
	recon := c.recon
	if !stopping {
		c.lastErr = err
	}
	c.mu.Unlock()

	if stopping || recon == nil {
		return
	}
	slog.Warn("session: transport lost, reconnecting", "err", err)
	c.notifyState()
	recon.NotifyDisconnect()
}

// pumpTranscripts forwards transcript entries to the registered handler.
func (c *Coordinator) pumpTranscripts(ch transport.Channel) {
	defer c.pumpWG.Done()

	for tr := range ch.Transcripts() {
		if c.onTranscript != nil {
			c.onTranscript(tr)
		}
	}
}

// handleReconnect swaps in the channel produced by a successful redial.
func (c *Coordinator) handleReconnect(ch transport.Channel) {
	c.mu.Lock()
	if c.stopping || c.state != StateActive {
		c.mu.Unlock()
		return
	}
	c.channel = ch
	c.lastErr = nil
	c.mu.Unlock()

	ch.OnError(func(err error) {
		slog.Warn("session: service reported error", "err", err)
	})
	c.startPumps(ch)
	c.notifyState()
}

// notifyState invokes the state listener outside the coordinator lock.
func (c *Coordinator) notifyState() {
	if c.stateListener != nil {
		c.stateListener(c.Snapshot())
	}
}
