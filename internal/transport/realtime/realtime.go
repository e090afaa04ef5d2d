// Package realtime implements [transport.Dialer] for OpenAI-Realtime-style
// speech services.
//
// It holds a bidirectional WebSocket connection and exchanges JSON events:
// microphone audio goes out as input_audio_buffer.append events carrying
// base64 PCM16, assistant audio comes back as response.audio.delta events in
// the same encoding. Transcripts for both sides arrive as separate events.
// Server error events are surfaced through the OnError callback and never
// terminate the channel.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/parlodev/parlo/internal/transport"
	"github.com/parlodev/parlo/pkg/audio/codec"
)

// Compile-time assertions.
var (
	_ transport.Dialer  = (*Dialer)(nil)
	_ transport.Channel = (*channel)(nil)
)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"
)

// Option configures a [Dialer].
type Option func(*Dialer)

// WithModel sets the default model for sessions dialed without an explicit
// one.
func WithModel(model string) Option {
	return func(d *Dialer) { d.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(d *Dialer) { d.baseURL = url }
}

// Dialer opens realtime channels against one service endpoint.
type Dialer struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a [Dialer] with the given API key and options.
func New(apiKey string, opts ...Option) *Dialer {
	d := &Dialer{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial establishes a WebSocket session and configures it for PCM16 audio in
// both directions. The returned channel accepts audio as soon as Dial
// returns.
func (d *Dialer) Dial(ctx context.Context, cfg transport.SessionConfig) (transport.Channel, error) {
	model := cfg.Model
	if model == "" {
		model = d.model
	}
	wsURL := fmt.Sprintf("%s?model=%s", d.baseURL, model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + d.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}

	chCtx, chCancel := context.WithCancel(context.Background())
	ch := &channel{
		conn:        conn,
		audio:       make(chan codec.Chunk, 64),
		transcripts: make(chan transport.Transcript, 16),
		ctx:         chCtx,
		cancel:      chCancel,
	}

	if err := ch.sendSessionUpdate(cfg.Voice, cfg.Instructions); err != nil {
		chCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("realtime: session update: %w", err)
	}

	go ch.receiveLoop()

	return ch, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice             string `json:"voice,omitempty"`
	Instructions      string `json:"instructions,omitempty"`
	InputAudioFormat  string `json:"input_audio_format"`
	OutputAudioFormat string `json:"output_audio_format"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// serverErrorDetail is the nested error object in an error event:
// {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── channel ────────────────────────────────────────────────────────────────────

type channel struct {
	conn        *websocket.Conn
	audio       chan codec.Chunk
	transcripts chan transport.Transcript

	mu           sync.Mutex
	errorHandler func(error)
	errVal       error
	closed       bool

	// replyText accumulates response.audio_transcript.delta events until the
	// matching done event arrives.
	replyText string

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSessionUpdate configures voice, instructions and the PCM16 audio
// formats for the session.
func (c *channel) sendSessionUpdate(voice, instructions string) error {
	return c.writeJSON(sessionUpdateMessage{
		Type: "session.update",
		Session: sessionParams{
			Voice:             voice,
			Instructions:      instructions,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
		},
	})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *channel) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}
	return c.conn.Write(c.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them. It owns
// audio and transcripts: it closes both when it exits.
func (c *channel) receiveLoop() {
	defer c.closeChannels()

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.setErr(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		c.handleServerEvent(&evt)
	}
}

func (c *channel) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		// The delta is already base64 PCM16, which is exactly the chunk wire
		// form. Validation happens at decode time on the playback side, so a
		// malformed delta costs one chunk, never the session.
		select {
		case c.audio <- codec.Chunk(evt.Delta):
		case <-c.ctx.Done():
		}

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return
		}
		c.mu.Lock()
		c.replyText += evt.Delta
		c.mu.Unlock()

	case "response.audio_transcript.done":
		c.mu.Lock()
		text := c.replyText
		c.replyText = ""
		c.mu.Unlock()

		if text == "" {
			return
		}
		select {
		case c.transcripts <- transport.Transcript{Role: "assistant", Text: text}:
		case <-c.ctx.Done():
		}

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return
		}
		select {
		case c.transcripts <- transport.Transcript{Role: "user", Text: evt.Transcript}:
		case <-c.ctx.Done():
		}

	case "error":
		c.handleErrorEvent(evt)
	}
}

func (c *channel) handleErrorEvent(evt *serverEvent) {
	c.mu.Lock()
	handler := c.errorHandler
	c.mu.Unlock()

	if handler == nil {
		return
	}

	msg := "unknown error"
	if evt.Error != nil && evt.Error.Message != "" {
		msg = evt.Error.Message
	}
	handler(fmt.Errorf("realtime: %s", msg))
}

func (c *channel) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errVal == nil {
		c.errVal = err
	}
}

func (c *channel) closeChannels() {
	c.closeOnce.Do(func() {
		close(c.audio)
		close(c.transcripts)
	})
}

// ── Channel methods ────────────────────────────────────────────────────────────

// Send transmits one encoded chunk as an input_audio_buffer.append event.
// Chunks are already base64 PCM16, so they go on the wire as-is.
func (c *channel) Send(chunk codec.Chunk) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("realtime: channel closed")
	}
	c.mu.Unlock()

	if !validBase64(string(chunk)) {
		return fmt.Errorf("realtime: %w", codec.ErrMalformedChunk)
	}
	return c.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: string(chunk),
	})
}

// Audio returns the channel on which the assistant's audio arrives.
func (c *channel) Audio() <-chan codec.Chunk { return c.audio }

// Transcripts returns the channel on which transcript entries arrive.
func (c *channel) Transcripts() <-chan transport.Transcript { return c.transcripts }

// Interrupt sends a response.cancel event to stop the in-flight assistant
// response.
func (c *channel) Interrupt() error {
	return c.writeJSON(map[string]string{"type": "response.cancel"})
}

// OnError registers a callback for non-fatal error events from the service.
func (c *channel) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorHandler = fn
}

// Err returns the error that terminated the channel, or nil.
func (c *channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (c *channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}

// validBase64 reports whether s decodes as standard base64.
func validBase64(s string) bool {
	_, err := base64.StdEncoding.DecodeString(s)
	return err == nil
}
