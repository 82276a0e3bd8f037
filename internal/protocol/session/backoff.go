package session

import (
	"math"
	"math/rand"
	"time"
)

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// Backoff tracks attempts for one retry sequence. Not safe for concurrent use.
type Backoff struct {
	cfg     BackoffConfig
	attempt int
	rng     *rand.Rand
}

func NewBackoff(cfg BackoffConfig, rng *rand.Rand) *Backoff {
	return &Backoff{cfg: cfg, rng: rng}
}

// Next returns the delay before the next attempt, or false once MaxAttempts is spent.
func (b *Backoff) Next() (time.Duration, bool) {
	if b.cfg.MaxAttempts > 0 && b.attempt >= b.cfg.MaxAttempts {
		return 0, false
	}
	b.attempt++
	return NextBackoffDelay(b.cfg, b.attempt, b.rng), true
}

func (b *Backoff) Attempts() int {
	return b.attempt
}

func (b *Backoff) Reset() {
	b.attempt = 0
}
