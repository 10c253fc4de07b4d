package resilience

import (
	"math"
	"time"
)

// BackoffDelay returns the wait after the given failed attempt (1-based).
// It grows by RetryMultiplier from RetryInitialBackoff and is capped at RetryMaxBackoff.
func BackoffDelay(cfg Config, attempt int) time.Duration {
	cfg = cfg.normalize()
	if attempt < 1 {
		return 0
	}
	delay := float64(cfg.RetryInitialBackoff) * math.Pow(cfg.RetryMultiplier, float64(attempt-1))
	if math.IsInf(delay, 0) || delay > float64(cfg.RetryMaxBackoff) {
		return cfg.RetryMaxBackoff
	}
	return time.Duration(delay)
}

// BackoffSchedule lists the waits between consecutive attempts, one entry per retry.
func BackoffSchedule(cfg Config) []time.Duration {
	cfg = cfg.normalize()
	out := make([]time.Duration, 0, cfg.RetryMaxAttempts-1)
	for attempt := 1; attempt < cfg.RetryMaxAttempts; attempt++ {
		out = append(out, BackoffDelay(cfg, attempt))
	}
	return out
}
