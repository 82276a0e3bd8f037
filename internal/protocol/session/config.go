package session

import "time"

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration `toml:"initial_delay"`
	Multiplier   float64       `toml:"multiplier"`
	MaxDelay     time.Duration `toml:"max_delay"`
	Jitter       bool          `toml:"jitter"`
	MaxAttempts  int           `toml:"max_attempts"`
}

// Config defines per-connection timeouts. Zero disables a timeout.
type Config struct {
	ConnectTimeout time.Duration `toml:"connect_timeout"`
	ReadTimeout    time.Duration `toml:"read_timeout"`
	WriteTimeout   time.Duration `toml:"write_timeout"`
	HostTimeout    time.Duration `toml:"host_timeout"`
	Backoff        BackoffConfig `toml:"backoff"`
}

// DefaultConfig waits indefinitely for the next request; the peer drives the pace.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    0,
		WriteTimeout:   15 * time.Second,
		HostTimeout:    30 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
			MaxAttempts:  5,
		},
	}
}
