package leakcheck

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	testing.TB
	failed bool
}

func (r *recorder) Helper()                                   {}
func (r *recorder) Errorf(format string, args ...interface{}) { r.failed = true }

func TestCheckPassesWhenGoroutinesExit(t *testing.T) {
	rec := &recorder{TB: t}
	d := New(rec, WithTimeout(time.Second))
	done := make(chan struct{})
	go func() { <-done }()
	close(done)
	d.Check()
	assert.False(t, rec.failed)
}

func TestCheckReportsLeak(t *testing.T) {
	rec := &recorder{TB: t}
	d := New(rec, WithTimeout(50*time.Millisecond))
	stop := make(chan struct{})
	defer close(stop)
	go func() { <-stop }()
	d.Check()
	assert.True(t, rec.failed)
}

func TestSlack(t *testing.T) {
	rec := &recorder{TB: t}
	d := New(rec, WithSlack(1), WithTimeout(50*time.Millisecond))
	stop := make(chan struct{})
	defer close(stop)
	go func() { <-stop }()
	d.Check()
	assert.False(t, rec.failed)
}
