package engine

import (
	"time"

	"cua/internal/config"
	cuaerrors "cua/internal/errors"
)

// Config holds the retry, step and timing knobs of task execution.
type Config struct {
	MaxRetries         int
	RetryBaseDelay     time.Duration
	MaxSteps           int
	ActionTimeout      time.Duration
	ObserveTimeout     time.Duration
	ContentTimeout     time.Duration
	ScreenshotTimeout  time.Duration
	VerificationDelay  time.Duration
	PageSettleDelay    time.Duration
	TypingSettleFactor float64
	GenericSettleDelay time.Duration
	StepPause          time.Duration
	ContentLimit       int
	MaxElements        int
	OracleTimeout      time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:         3,
		RetryBaseDelay:     2 * time.Second,
		MaxSteps:           20,
		ActionTimeout:      20 * time.Second,
		ObserveTimeout:     5 * time.Second,
		ContentTimeout:     10 * time.Second,
		ScreenshotTimeout:  5 * time.Second,
		VerificationDelay:  time.Second,
		PageSettleDelay:    2 * time.Second,
		TypingSettleFactor: 1.5,
		GenericSettleDelay: 500 * time.Millisecond,
		StepPause:          500 * time.Millisecond,
		ContentLimit:       3000,
		MaxElements:        20,
		OracleTimeout:      60 * time.Second,
	}
}

// ConfigFrom converts the loaded service configuration.
func ConfigFrom(c config.EngineConfig) Config {
	return Config{
		MaxRetries:         c.MaxRetries,
		RetryBaseDelay:     c.RetryBaseDelay,
		MaxSteps:           c.MaxSteps,
		ActionTimeout:      c.ActionTimeout,
		ObserveTimeout:     c.ObserveTimeout,
		ContentTimeout:     c.ContentTimeout,
		ScreenshotTimeout:  c.ScreenshotTimeout,
		VerificationDelay:  c.VerificationDelay,
		PageSettleDelay:    c.PageSettleDelay,
		TypingSettleFactor: c.TypingSettleFactor,
		GenericSettleDelay: c.GenericSettleDelay,
		StepPause:          c.StepPause,
		ContentLimit:       c.ContentLimit,
		MaxElements:        c.MaxElements,
		OracleTimeout:      c.OracleTimeout,
	}
}

// withDefaults fills the fields a zero value cannot mean. Delays may
// legitimately be zero and are left alone.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = def.MaxSteps
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = def.ActionTimeout
	}
	if c.ObserveTimeout <= 0 {
		c.ObserveTimeout = def.ObserveTimeout
	}
	if c.ContentTimeout <= 0 {
		c.ContentTimeout = def.ContentTimeout
	}
	if c.ScreenshotTimeout <= 0 {
		c.ScreenshotTimeout = def.ScreenshotTimeout
	}
	if c.ContentLimit <= 0 {
		c.ContentLimit = def.ContentLimit
	}
	if c.MaxElements <= 0 {
		c.MaxElements = def.MaxElements
	}
	if c.OracleTimeout <= 0 {
		c.OracleTimeout = def.OracleTimeout
	}
	return c
}

// SettleDelay is the pause after a successful action before the page is
// inspected again.
func (c Config) SettleDelay(action string) time.Duration {
	switch action {
	case "navigate", "click", "smartClick":
		return c.PageSettleDelay
	case "type", "smartType":
		return time.Duration(float64(c.PageSettleDelay) * c.TypingSettleFactor)
	default:
		return c.GenericSettleDelay
	}
}

// Backoff returns the wait before attempt k (0-based): RetryBaseDelay * 2^(k-1)
// for k > 0.
func (c Config) Backoff(attempt int) time.Duration {
	return cuaerrors.RetryConfig{MaxAttempts: c.MaxRetries, BaseDelay: c.RetryBaseDelay}.Delay(attempt)
}
