// Package leakcheck fails a test that leaves goroutines behind.
package leakcheck

import (
	"runtime"
	"testing"
	"time"
)

// Detector compares the goroutine count at the end of a test with the
// count when it was created
type Detector struct {
	tb      testing.TB
	base    int
	slack   int
	timeout time.Duration
}

// Option tunes a Detector
type Option func(*Detector)

// WithSlack tolerates n extra goroutines, for runtime helpers a test
// cannot stop
func WithSlack(n int) Option {
	return func(d *Detector) { d.slack = n }
}

// WithTimeout sets how long Check waits for goroutines to exit
func WithTimeout(timeout time.Duration) Option {
	return func(d *Detector) { d.timeout = timeout }
}

// New records the current goroutine count
func New(tb testing.TB, options ...Option) *Detector {
	d := &Detector{tb: tb, timeout: 2 * time.Second}
	for _, option := range options {
		option(d)
	}
	d.base = runtime.NumGoroutine()
	return d
}

// Check polls until the goroutine count is back within the slack of the
// baseline, and fails the test with every stack if it never is
func (d *Detector) Check() {
	d.tb.Helper()
	deadline := time.Now().Add(d.timeout)
	for {
		n := runtime.NumGoroutine()
		if n-d.base <= d.slack {
			return
		}
		if time.Now().After(deadline) {
			buf := make([]byte, 1<<20)
			buf = buf[:runtime.Stack(buf, true)]
			d.tb.Errorf("goroutine leak: %d at start, %d after %s (slack %d)\n%s",
				d.base, n, d.timeout, d.slack, buf)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Verify registers Check as a cleanup of tb
func Verify(tb testing.TB, options ...Option) {
	d := New(tb, options...)
	tb.Cleanup(d.Check)
}
