package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parlodev/parlo/internal/transport"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Reconnector monitors a transport channel and automatically redials on
// connection loss, preserving the session configuration.
//
// Callers obtain the initial channel via [Reconnector.Connect], then call
// [Reconnector.Monitor] to start a background goroutine that watches for
// drops. When a drop is signalled (via [Reconnector.NotifyDisconnect]), the
// monitor redials with exponential backoff and invokes the configured
// OnReconnect callback on success.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	dialer      transport.Dialer
	sessionCfg  transport.SessionConfig
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	onReconnect func(transport.Channel)

	mu           sync.Mutex
	channel      transport.Channel
	done         chan struct{}
	stopOnce     sync.Once
	disconnected chan struct{} // signalled when a disconnect is detected
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Dialer opens channels to the remote speech service.
	Dialer transport.Dialer

	// Session is the configuration used for every dial, initial and redial.
	Session transport.SessionConfig

	// MaxRetries is the maximum number of redial attempts before giving up.
	// Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the initial backoff duration between retries. Doubles each
	// attempt up to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on backoff duration. Defaults to 30s if
	// zero.
	MaxBackoff time.Duration

	// OnReconnect is called after a successful redial with the new channel.
	// May be nil.
	OnReconnect func(transport.Channel)
}

// NewReconnector creates a new [Reconnector] with the given configuration.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return &Reconnector{
		dialer:       cfg.Dialer,
		sessionCfg:   cfg.Session,
		maxRetries:   maxRetries,
		backoff:      backoff,
		maxBackoff:   maxBackoff,
		onReconnect:  cfg.OnReconnect,
		done:         make(chan struct{}),
		disconnected: make(chan struct{}, 1),
	}
}

// Connect performs the initial dial to the remote service.
func (r *Reconnector) Connect(ctx context.Context) (transport.Channel, error) {
	ch, err := r.dialer.Dial(ctx, r.sessionCfg)
	if err != nil {
		return nil, fmt.Errorf("reconnector initial dial: %w", err)
	}

	r.mu.Lock()
	r.channel = ch
	r.mu.Unlock()

	return ch, nil
}

// Monitor starts monitoring the channel in a background goroutine. If a
// disconnection is signalled via [Reconnector.NotifyDisconnect], it redials
// with exponential backoff.
func (r *Reconnector) Monitor(ctx context.Context) {
	go r.monitorLoop(ctx)
}

// NotifyDisconnect signals the monitor that the channel has been lost and a
// redial should be attempted. Safe to call multiple times; only the first
// call per reconnection cycle has effect.
func (r *Reconnector) NotifyDisconnect() {
	select {
	case r.disconnected <- struct{}{}:
	default:
		// Already signalled; avoid blocking.
	}
}

// Stop halts monitoring and closes the current channel. Safe to call
// multiple times.
func (r *Reconnector) Stop() error {
	r.stopOnce.Do(func() {
		close(r.done)
	})

	r.mu.Lock()
	ch := r.channel
	r.channel = nil
	r.mu.Unlock()

	if ch != nil {
		return ch.Close()
	}
	return nil
}

// Channel returns the current active channel. May return nil during a
// redial.
func (r *Reconnector) Channel() transport.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channel
}

// monitorLoop waits for disconnect notifications and attempts redials.
func (r *Reconnector) monitorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.disconnected:
			r.attemptReconnect(ctx)
		}
	}
}

// attemptReconnect tries to redial with exponential backoff.
func (r *Reconnector) attemptReconnect(ctx context.Context) {
	currentBackoff := r.backoff

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		default:
		}

		slog.Info("attempting reconnection",
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", currentBackoff,
		)

		ch, err := r.dialer.Dial(ctx, r.sessionCfg)
		if err == nil {
			r.mu.Lock()
			oldCh := r.channel
			r.channel = ch
			r.mu.Unlock()

			// Close the old (failed) channel to release its resources.
			if oldCh != nil {
				_ = oldCh.Close()
			}

			slog.Info("reconnection successful", "attempt", attempt)

			if r.onReconnect != nil {
				r.onReconnect(ch)
			}
			return
		}

		slog.Warn("reconnection attempt failed",
			"attempt", attempt,
			"error", err,
		)

		// Wait before retrying.
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-time.After(currentBackoff):
		}

		// Exponential backoff.
		currentBackoff *= 2
		if currentBackoff > r.maxBackoff {
			currentBackoff = r.maxBackoff
		}
	}

	slog.Error("reconnection failed after max retries", "max_retries", r.maxRetries)
}
