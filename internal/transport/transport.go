// Package transport defines the bidirectional channel between the local
// audio pipeline and a remote speech service: encoded chunks go out, encoded
// chunks and transcripts come back.
//
// Implementations live in subpackages ([realtime] for the WebSocket protocol,
// mock for tests). The coordinator only ever sees this interface.
package transport

import (
	"context"

	"github.com/parlodev/parlo/pkg/audio/codec"
)

// Transcript is a piece of recognised or synthesised speech text attributed
// to one side of the conversation.
type Transcript struct {
	// Role is "user" for recognised microphone speech and "assistant" for
	// the remote service's spoken replies.
	Role string

	Text string
}

// SessionConfig carries the per-session parameters sent to the remote
// service when a channel is dialed.
type SessionConfig struct {
	// Model selects the remote speech model.
	Model string

	// Voice selects the synthesised voice for assistant audio. Empty keeps
	// the service default.
	Voice string

	// Instructions is the system prompt steering assistant replies. Ignored
	// in transcription-only use.
	Instructions string
}

// Channel is a live bidirectional session with the remote speech service.
//
// Send may be called from the capture goroutine. Audio and Transcripts are
// closed when the channel terminates, whether by Close or by a connection
// failure; after they close, Err reports the cause (nil for a local Close).
type Channel interface {
	// Send transmits one encoded chunk of microphone audio.
	Send(chunk codec.Chunk) error

	// Audio delivers the assistant's synthesised audio, chunk by chunk, in
	// arrival order.
	Audio() <-chan codec.Chunk

	// Transcripts delivers recognised user speech and assistant reply text.
	Transcripts() <-chan Transcript

	// Interrupt asks the service to stop the in-flight assistant response.
	Interrupt() error

	// OnError registers a callback for non-fatal error events reported by
	// the service. Such events never terminate the channel.
	OnError(fn func(error))

	// Err returns the error that terminated the channel, or nil.
	Err() error

	// Close terminates the session. Idempotent.
	Close() error
}

// Dialer opens channels. The coordinator holds a Dialer so tests can swap in
// a mock without a network.
type Dialer interface {
	Dial(ctx context.Context, cfg SessionConfig) (Channel, error)
}
