// Package roughtime is the node's single source of wall-clock time. The
// slot clock and every "has genesis arrived yet" check read through it, so
// a test can pin the clock by swapping the source instead of sleeping.
package roughtime

import (
	"time"
)

var nowFunc = time.Now

// Now returns the current wall-clock time.
func Now() time.Time {
	return nowFunc()
}

// Since returns the duration elapsed since t.
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}

// Until returns the duration remaining until t.
func Until(t time.Time) time.Duration {
	return t.Sub(Now())
}

// SetNowFunc swaps the clock source and returns a restore function.
// Intended for tests.
func SetNowFunc(f func() time.Time) (restore func()) {
	previous := nowFunc
	nowFunc = f
	return func() { nowFunc = previous }
}
