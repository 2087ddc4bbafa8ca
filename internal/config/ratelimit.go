package config

import "time"

// RateLimitConfig defines rate limiting parameters for cloud outputs
type RateLimitConfig struct {
	// RequestsPerSecond is the number of API requests allowed per second
	RequestsPerSecond int
	// MaxRetries is the maximum number of retries before giving up
	MaxRetries int
	// BaseDelay is the initial delay duration for backoff
	BaseDelay time.Duration
	// MaxDelay is the maximum delay duration for backoff
	MaxDelay time.Duration
}

var (
	// DefaultRateLimitConfig provides default values for rate limiting.
	// CloudWatch Logs allows 5 PutLogEvents TPS per stream; retries are
	// generous because the daemon prefers late delivery over dropped
	// messages.
	DefaultRateLimitConfig = RateLimitConfig{
		RequestsPerSecond: 5,
		MaxRetries:        5,
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          30 * time.Second,
	}
)
