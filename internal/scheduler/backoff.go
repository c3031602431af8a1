package scheduler

import "time"

// launchBackoff returns the delay before the next launch attempt after the
// given number of consecutive launch failures: base * 2^(failures-1), capped
// at max. A zero base disables backoff.
func launchBackoff(base, max time.Duration, failures int) time.Duration {
	if base <= 0 || failures <= 0 {
		return 0
	}

	// 2^30 * base exceeds any sensible cap; avoid overflowing the shift
	shift := failures - 1
	if shift > 30 {
		return max
	}

	backoff := base * time.Duration(1<<shift)
	if max > 0 && backoff > max {
		return max
	}
	return backoff
}
