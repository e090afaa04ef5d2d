// Package mock provides in-memory implementations of [transport.Dialer] and
// [transport.Channel] for unit tests.
//
// The mock channel records every sent chunk and lets the test inject inbound
// audio, transcripts, and error events as if they came from the remote
// service.
package mock

import (
	"context"
	"sync"

	"github.com/parlodev/parlo/internal/transport"
	"github.com/parlodev/parlo/pkg/audio/codec"
)

// Compile-time interface assertions.
var (
	_ transport.Dialer  = (*Dialer)(nil)
	_ transport.Channel = (*Channel)(nil)
)

// Dialer is a mock [transport.Dialer]. Each Dial hands out the next queued
// [Channel], creating a fresh one when the queue is empty.
type Dialer struct {
	mu sync.Mutex

	// DialError is returned by Dial when non-nil.
	DialError error

	// DialCalls records the SessionConfig of every Dial invocation.
	DialCalls []transport.SessionConfig

	queue  []*Channel
	dialed []*Channel
}

// NewDialer creates a Dialer that will hand out the given channels in order.
func NewDialer(channels ...*Channel) *Dialer {
	return &Dialer{queue: channels}
}

// Dial implements [transport.Dialer].
func (d *Dialer) Dial(_ context.Context, cfg transport.SessionConfig) (transport.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.DialCalls = append(d.DialCalls, cfg)
	if d.DialError != nil {
		return nil, d.DialError
	}
	var ch *Channel
	if len(d.queue) > 0 {
		ch = d.queue[0]
		d.queue = d.queue[1:]
	} else {
		ch = NewChannel()
	}
	d.dialed = append(d.dialed, ch)
	return ch, nil
}

// Channel returns the channel handed out by the n-th Dial (zero-based), or
// nil if fewer dials happened.
func (d *Dialer) Channel(n int) *Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n < 0 || n >= len(d.dialed) {
		return nil
	}
	return d.dialed[n]
}

// Dials reports how many times Dial was called.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.DialCalls)
}

// Channel is a mock [transport.Channel].
type Channel struct {
	audio       chan codec.Chunk
	transcripts chan transport.Transcript

	mu           sync.Mutex
	sent         []codec.Chunk
	sentCh       chan codec.Chunk
	errorHandler func(error)
	errVal       error
	closed       bool
	closeCount   int
	interrupts   int

	// SendError is returned by Send when non-nil.
	SendError error

	closeOnce sync.Once
}

// NewChannel creates an open mock channel.
func NewChannel() *Channel {
	return &Channel{
		audio:       make(chan codec.Chunk, 64),
		transcripts: make(chan transport.Transcript, 16),
		sentCh:      make(chan codec.Chunk, 64),
	}
}

// Send implements [transport.Channel]. Sent chunks are recorded and also
// delivered on the channel returned by [Channel.SentChunks].
func (c *Channel) Send(chunk codec.Chunk) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transportClosedError{}
	}
	if c.SendError != nil {
		err := c.SendError
		c.mu.Unlock()
		return err
	}
	c.sent = append(c.sent, chunk)
	c.mu.Unlock()

	select {
	case c.sentCh <- chunk:
	default:
	}
	return nil
}

// SentChunks returns a channel receiving each chunk as it is sent. Use this
// in tests to wait for capture output to reach the transport.
func (c *Channel) SentChunks() <-chan codec.Chunk { return c.sentCh }

// Sent returns a snapshot of all chunks sent so far, in order.
func (c *Channel) Sent() []codec.Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]codec.Chunk, len(c.sent))
	copy(out, c.sent)
	return out
}

// PushAudio injects inbound assistant audio, as if the service sent it.
func (c *Channel) PushAudio(chunks ...codec.Chunk) {
	for _, chunk := range chunks {
		c.audio <- chunk
	}
}

// PushTranscript injects an inbound transcript entry.
func (c *Channel) PushTranscript(tr transport.Transcript) {
	c.transcripts <- tr
}

// PushError invokes the registered error callback, as if the service sent a
// non-fatal error event.
func (c *Channel) PushError(err error) {
	c.mu.Lock()
	handler := c.errorHandler
	c.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}

// Fail terminates the channel with err, as if the connection dropped.
func (c *Channel) Fail(err error) {
	c.mu.Lock()
	if c.errVal == nil {
		c.errVal = err
	}
	c.closed = true
	c.mu.Unlock()
	c.closeStreams()
}

// Audio implements [transport.Channel].
func (c *Channel) Audio() <-chan codec.Chunk { return c.audio }

// Transcripts implements [transport.Channel].
func (c *Channel) Transcripts() <-chan transport.Transcript { return c.transcripts }

// Interrupt implements [transport.Channel].
func (c *Channel) Interrupt() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interrupts++
	return nil
}

// Interrupts reports how many times Interrupt was called.
func (c *Channel) Interrupts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interrupts
}

// OnError implements [transport.Channel].
func (c *Channel) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorHandler = fn
}

// Err implements [transport.Channel].
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

// Close implements [transport.Channel]. Idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.closeCount++
	c.mu.Unlock()
	c.closeStreams()
	return nil
}

// CloseCount reports how many times Close was called.
func (c *Channel) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

func (c *Channel) closeStreams() {
	c.closeOnce.Do(func() {
		close(c.audio)
		close(c.transcripts)
	})
}

type transportClosedError struct{}

func (transportClosedError) Error() string { return "mock: channel closed" }
