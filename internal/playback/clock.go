package playback

import "time"

// Clock abstracts monotonic time for the scheduler so tests can drive
// virtual time deterministically.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that fires once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// realClock is the production [Clock] backed by the runtime monotonic clock.
type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
