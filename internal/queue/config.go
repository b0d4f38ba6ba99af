package queue

import "time"

// Config holds the controller's scheduling limits
type Config struct {
	// MaxRetries is the failure count at which a job stops being admitted
	MaxRetries int

	// MaxConcurrency is the number of runners that may be active at once
	MaxConcurrency int

	// RetryDelay is the first pause before re-running a cycle that failed on the store.
	// It doubles on each consecutive failure up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// NewDefaultConfig creates a controller configuration with the standard limits
func NewDefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		MaxConcurrency: 3,
		RetryDelay:     time.Second,
		MaxRetryDelay:  30 * time.Second,
	}
}
