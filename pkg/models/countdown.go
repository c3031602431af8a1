package models

import (
	"fmt"
	"time"
)

// Countdown is the remaining time until a target, split into display units
type Countdown struct {
	Days    int64
	Hours   int64
	Minutes int64
	Seconds int64
}

// CountdownUntil computes max(target-now, 0) truncated to whole seconds
func CountdownUntil(target, now time.Time) Countdown {
	diff := target.Sub(now)
	if diff < 0 {
		diff = 0
	}

	total := int64(diff / time.Second)
	return Countdown{
		Days:    total / 86400,
		Hours:   (total / 3600) % 24,
		Minutes: (total / 60) % 60,
		Seconds: total % 60,
	}
}

// Parts returns the four units zero-padded to two digits, largest first
func (c Countdown) Parts() [4]string {
	return [4]string{
		fmt.Sprintf("%02d", c.Days),
		fmt.Sprintf("%02d", c.Hours),
		fmt.Sprintf("%02d", c.Minutes),
		fmt.Sprintf("%02d", c.Seconds),
	}
}
