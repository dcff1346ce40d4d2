package capture

import "time"

// Backoff computes exponential reconnect delays for one failure episode:
// base, 2*base, 4*base, ... capped at max. A successful connect resets the
// episode. Deterministic on purpose so the sequence is testable.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries int

	attempt int
}

// Next returns the delay to sleep before the upcoming attempt and whether
// the episode still has attempts left. Once MaxRetries attempts have been
// handed out, ok is false and the caller decides between placeholder
// fallback and retrying indefinitely at the cap.
func (b *Backoff) Next() (delay time.Duration, ok bool) {
	if b.attempt >= b.MaxRetries {
		return b.Max, false
	}
	delay = b.Base << uint(b.attempt)
	if delay > b.Max || delay <= 0 {
		delay = b.Max
	}
	b.attempt++
	return delay, true
}

// Reset starts a fresh episode after a successful connect.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns the number of attempts consumed in this episode.
func (b *Backoff) Attempt() int {
	return b.attempt
}
