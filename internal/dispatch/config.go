// Package dispatch formats anomaly detections for external alert channels
// and delivers them over webhooks with bounded retry and exponential backoff.
package dispatch

import (
	"errors"
	"time"
)

// Default values for webhook delivery configuration.
const (
	DefaultMaxRetries     = 3
	DefaultBaseDelay      = time.Second
	DefaultMaxDelay       = 30 * time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultProbeTimeout   = 5 * time.Second
)

// Configuration errors.
var (
	ErrInvalidMaxRetries = errors.New("max retries must be at least 1")
	ErrInvalidBaseDelay  = errors.New("base delay must be positive")
	ErrInvalidMaxDelay   = errors.New("max delay must be >= base delay")
	ErrInvalidTimeout    = errors.New("request timeout must be positive")
)

// Config holds webhook delivery configuration.
type Config struct {
	// Webhook endpoints per channel. An empty URL disables the channel.
	SlackWebhookURL  string
	TeamsWebhookURL  string
	ZapierWebhookURL string

	// MaxRetries is the maximum number of delivery attempts per dispatch.
	MaxRetries int

	// BaseDelay is the backoff delay after the first failed attempt.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff delay.
	MaxDelay time.Duration

	// RequestTimeout is the hard per-attempt timeout for webhook POSTs.
	RequestTimeout time.Duration

	// ProbeTimeout is the timeout for reachability probes.
	ProbeTimeout time.Duration
}

// DefaultConfig returns a Config with the default delivery policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     DefaultMaxRetries,
		BaseDelay:      DefaultBaseDelay,
		MaxDelay:       DefaultMaxDelay,
		RequestTimeout: DefaultRequestTimeout,
		ProbeTimeout:   DefaultProbeTimeout,
	}
}

// Normalize replaces zero or invalid policy values with defaults.
// Webhook URLs are left as provided.
func (c *Config) Normalize() {
	if c.MaxRetries < 1 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.MaxRetries < 1 {
		return ErrInvalidMaxRetries
	}
	if c.BaseDelay <= 0 {
		return ErrInvalidBaseDelay
	}
	if c.MaxDelay < c.BaseDelay {
		return ErrInvalidMaxDelay
	}
	if c.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}
	return nil
}

// BackoffPolicy maps a 0-based failed-attempt index to the delay before
// the next attempt. Expressed as a standalone function so the policy is
// unit-testable in isolation from any I/O.
type BackoffPolicy func(attempt int) time.Duration

// ExponentialBackoff returns the capped exponential policy
// delay(a) = min(base * 2^a, max).
func ExponentialBackoff(base, max time.Duration) BackoffPolicy {
	return func(attempt int) time.Duration {
		if attempt < 0 {
			attempt = 0
		}
		// Cap the shift to prevent overflow
		shift := uint(attempt)
		if shift > 30 {
			shift = 30
		}
		delay := base << shift
		if delay > max || delay <= 0 {
			return max
		}
		return delay
	}
}

// Backoff returns the configured exponential backoff policy.
func (c Config) Backoff() BackoffPolicy {
	return ExponentialBackoff(c.BaseDelay, c.MaxDelay)
}
