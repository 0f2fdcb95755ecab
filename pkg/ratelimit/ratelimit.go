// Package ratelimit implements per-caller sliding-window admission control.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Config configures a Limiter
type Config struct {
	// MaxCalls is the number of admissions allowed per caller within Window.
	// Zero or less disables limiting.
	MaxCalls int `yaml:"maxCalls" env:"TOOLWIRE_RATE_MAX_CALLS"`
	// Window is the length of the sliding window
	Window time.Duration `yaml:"window" env:"TOOLWIRE_RATE_WINDOW"`
	// IdleTTL is how long a caller with no recent admissions is kept before
	// Sweep drops it. Defaults to Window.
	IdleTTL time.Duration `yaml:"idleTTL"`
	// Clock supplies the time for Allow. Defaults to time.Now.
	Clock func() time.Time `yaml:"-"`
}

// DefaultConfig returns a limiter configuration of 60 calls per minute
func DefaultConfig() Config {
	return Config{MaxCalls: 60, Window: time.Minute}
}

// Limiter tracks recent admissions per caller
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	windows map[string]*window
}

// window is the admission history of one caller. timestamps is ordered and
// never holds more than MaxCalls entries.
type window struct {
	mu         sync.Mutex
	timestamps []time.Time
	lastSeen   time.Time
	dead       bool
}

// New creates a Limiter
func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = cfg.Window
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Limiter{
		cfg:     cfg,
		windows: make(map[string]*window),
	}
}

// Config returns the limiter configuration
func (l *Limiter) Config() Config {
	return l.cfg
}

// Enabled reports whether the limiter restricts anything
func (l *Limiter) Enabled() bool {
	return l.cfg.MaxCalls > 0
}

// Allow is Admit at the limiter clock's current time
func (l *Limiter) Allow(callerID string) bool {
	return l.Admit(callerID, l.cfg.Clock())
}

// Admit drops timestamps older than now-Window, then admits iff fewer than
// MaxCalls remain, recording now when it does. Concurrent calls for the same
// caller are serialized on that caller's window.
func (l *Limiter) Admit(callerID string, now time.Time) bool {
	if !l.Enabled() {
		return true
	}
	for {
		w := l.window(callerID)
		w.mu.Lock()
		if w.dead {
			// swept between lookup and lock; take the fresh window
			w.mu.Unlock()
			continue
		}
		w.prune(now, l.cfg.Window)
		w.lastSeen = now
		admitted := len(w.timestamps) < l.cfg.MaxCalls
		if admitted {
			w.timestamps = append(w.timestamps, now)
		}
		w.mu.Unlock()
		return admitted
	}
}

// Remaining returns how many more admissions callerID has at now
func (l *Limiter) Remaining(callerID string, now time.Time) int {
	if !l.Enabled() {
		return -1
	}
	w := l.lookup(callerID)
	if w == nil {
		return l.cfg.MaxCalls
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now, l.cfg.Window)
	return l.cfg.MaxCalls - len(w.timestamps)
}

// RetryAfter returns how long callerID must wait from now before an
// admission can succeed. Zero means a call would be admitted now.
func (l *Limiter) RetryAfter(callerID string, now time.Time) time.Duration {
	if !l.Enabled() {
		return 0
	}
	w := l.lookup(callerID)
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now, l.cfg.Window)
	if len(w.timestamps) < l.cfg.MaxCalls {
		return 0
	}
	return w.timestamps[0].Add(l.cfg.Window).Sub(now)
}

// Reset forgets the history of callerID
func (l *Limiter) Reset(callerID string) {
	l.mu.Lock()
	w := l.windows[callerID]
	delete(l.windows, callerID)
	l.mu.Unlock()
	if w != nil {
		w.mu.Lock()
		w.dead = true
		w.mu.Unlock()
	}
}

// Sweep drops callers that have not been seen within IdleTTL of now and
// returns how many were dropped.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	dropped := 0
	for id, w := range l.windows {
		w.mu.Lock()
		if now.Sub(w.lastSeen) > l.cfg.IdleTTL {
			w.dead = true
			delete(l.windows, id)
			dropped++
		}
		w.mu.Unlock()
	}
	return dropped
}

// Len returns the number of tracked callers
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// StartJanitor runs Sweep every interval until ctx is done
func (l *Limiter) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = l.cfg.IdleTTL
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep(l.cfg.Clock())
			}
		}
	}()
}

func (l *Limiter) window(callerID string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[callerID]
	if !ok {
		w = &window{timestamps: make([]time.Time, 0, l.cfg.MaxCalls)}
		l.windows[callerID] = w
	}
	return w
}

func (l *Limiter) lookup(callerID string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.windows[callerID]
}

// prune drops timestamps at or before now-span. Caller holds w.mu.
func (w *window) prune(now time.Time, span time.Duration) {
	cutoff := now.Add(-span)
	i := 0
	for i < len(w.timestamps) && !w.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.timestamps = append(w.timestamps[:0], w.timestamps[i:]...)
	}
}
