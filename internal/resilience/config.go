package resilience

import (
	"time"
)

// FromRetryConfig maps the config file's retry knobs onto an in-call
// retry budget. Unset knobs keep the package defaults, jitter included.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	cfg.InitialBackoff = msOr(initialBackoffMs, cfg.InitialBackoff)
	cfg.MaxBackoff = msOr(maxBackoffMs, cfg.MaxBackoff)
	return cfg
}

// FromCircuitConfig maps the config file's breaker knobs onto a breaker
// config shared by every provider registry entry.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}

func msOr(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
