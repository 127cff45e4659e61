package engine

import "time"

// Clock supplies wall-clock time for default CreatedAt values.
// Ordering never depends on it beyond those defaults.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now()
}
