// Package config assembles the process-wide tunables for the bot-detection
// core: wave timeouts, concurrency bounds, bus sizing, and reputation/signature
// store capacities. It mirrors the teacher's core.Config pattern
// (core/config.go): a struct of defaults plus functional options applied in
// order, validated once at construction. File/env loading is left to the
// caller (out of scope, spec.md §1) — Config is the seam a loader populates.
package config

import (
	"fmt"
	"time"
)

// Config holds the tunables shared across the orchestrator, signature, and
// learning tiers.
type Config struct {
	MaxParallelDetectors int
	WaveTimeouts         []time.Duration
	DetectorCancelBudget time.Duration

	MaxSignatures           int
	SignatureTTL            time.Duration
	MaxRequestsPerSignature int
	PerKeyQueueBound        int

	LearningQueueCapacity int
	LearningBatchSize     int
	LearningFlushIdle     time.Duration

	ReputationTTL time.Duration

	HMACKeyHex string
}

// Option is a functional option for Config, mirroring core.Option's shape.
type Option func(*Config) error

// Default returns a Config populated with spec.md's documented defaults.
func Default() *Config {
	return &Config{
		MaxParallelDetectors: 8,
		WaveTimeouts: []time.Duration{
			100 * time.Millisecond,
			500 * time.Millisecond,
			5 * time.Second,
		},
		DetectorCancelBudget:    50 * time.Millisecond,
		MaxSignatures:           5000,
		SignatureTTL:            30 * time.Minute,
		MaxRequestsPerSignature: 100,
		PerKeyQueueBound:        100,
		LearningQueueCapacity:   10000,
		LearningBatchSize:       100,
		LearningFlushIdle:       30 * time.Second,
		ReputationTTL:           24 * time.Hour,
	}
}

// WithMaxParallelDetectors bounds the per-wave detector concurrency.
func WithMaxParallelDetectors(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("config: max parallel detectors must be positive, got %d", n)
		}
		c.MaxParallelDetectors = n
		return nil
	}
}

// WithWaveTimeout overrides the timeout for one wave index, growing the
// WaveTimeouts slice if necessary.
func WithWaveTimeout(waveIndex int, d time.Duration) Option {
	return func(c *Config) error {
		if waveIndex < 0 {
			return fmt.Errorf("config: wave index must be non-negative, got %d", waveIndex)
		}
		if d <= 0 {
			return fmt.Errorf("config: wave timeout must be positive, got %s", d)
		}
		for len(c.WaveTimeouts) <= waveIndex {
			c.WaveTimeouts = append(c.WaveTimeouts, c.WaveTimeouts[len(c.WaveTimeouts)-1])
		}
		c.WaveTimeouts[waveIndex] = d
		return nil
	}
}

// WithDetectorCancelBudget sets the grace period granted to a detector
// goroutine after its context is cancelled before it is considered hung.
func WithDetectorCancelBudget(d time.Duration) Option {
	return func(c *Config) error {
		c.DetectorCancelBudget = d
		return nil
	}
}

// WithSignatureRegistryBounds configures the signature registry's capacity,
// TTL, and per-signature window size.
func WithSignatureRegistryBounds(maxSignatures int, ttl time.Duration, maxWindow int) Option {
	return func(c *Config) error {
		if maxSignatures <= 0 || ttl <= 0 || maxWindow <= 0 {
			return fmt.Errorf("config: signature registry bounds must be positive")
		}
		c.MaxSignatures = maxSignatures
		c.SignatureTTL = ttl
		c.MaxRequestsPerSignature = maxWindow
		return nil
	}
}

// WithPerKeyQueueBound sets the per-signature pending-item overflow bound.
func WithPerKeyQueueBound(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("config: per-key queue bound must be positive, got %d", n)
		}
		c.PerKeyQueueBound = n
		return nil
	}
}

// WithLearningBus configures the learning event bus's queue capacity, batch
// size, and idle-flush interval.
func WithLearningBus(queueCapacity, batchSize int, flushIdle time.Duration) Option {
	return func(c *Config) error {
		if queueCapacity <= 0 || batchSize <= 0 || flushIdle <= 0 {
			return fmt.Errorf("config: learning bus parameters must be positive")
		}
		c.LearningQueueCapacity = queueCapacity
		c.LearningBatchSize = batchSize
		c.LearningFlushIdle = flushIdle
		return nil
	}
}

// WithReputationTTL sets the lazy-decay/GC horizon for reputation entries.
func WithReputationTTL(ttl time.Duration) Option {
	return func(c *Config) error {
		if ttl <= 0 {
			return fmt.Errorf("config: reputation TTL must be positive, got %s", ttl)
		}
		c.ReputationTTL = ttl
		return nil
	}
}

// WithHMACKeyHex sets the signature-hashing HMAC key (hex-encoded).
func WithHMACKeyHex(keyHex string) Option {
	return func(c *Config) error {
		if keyHex == "" {
			return fmt.Errorf("config: HMAC key must not be empty")
		}
		c.HMACKeyHex = keyHex
		return nil
	}
}

// New builds a Config from defaults plus opts, validating the result.
func New(opts ...Option) (*Config, error) {
	c := Default()
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks invariants that span multiple fields (single-field
// constraints are already enforced by each Option).
func (c *Config) Validate() error {
	if len(c.WaveTimeouts) == 0 {
		return fmt.Errorf("config: at least one wave timeout is required")
	}
	if c.HMACKeyHex == "" {
		return fmt.Errorf("config: an HMAC key is required for signature hashing")
	}
	return nil
}
