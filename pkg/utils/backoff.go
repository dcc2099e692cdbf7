package utils

import (
	"math/rand"
	"time"
)

// maxBackoffShift keeps base << (count-1) from overflowing time.Duration.
const maxBackoffShift = 30

// CalculateExponentialBackoffWithJitter computes a jittered exponential backoff delay.
// - count: Retry attempt number (1-based, e.g., 1 for first retry)
// - base: Base delay (e.g., 100 * time.Millisecond)
// - max: Maximum allowable delay (e.g., 5 * time.Second)
// The delay is base * 2^(count-1) with +-12.5% jitter, capped at max.
func CalculateExponentialBackoffWithJitter(count int, base time.Duration, max time.Duration) time.Duration {
	if count <= 0 || base <= 0 {
		return 0
	}

	shift := min(count-1, maxBackoffShift)
	baseDelay := base << shift
	if baseDelay <= 0 || baseDelay > max {
		baseDelay = max
	}

	delay := baseDelay
	if spread := int64(baseDelay / 4); spread > 0 {
		delay += time.Duration(rand.Int63n(spread)) - baseDelay/8
	}
	if delay > max {
		delay = max
	}
	return delay
}
