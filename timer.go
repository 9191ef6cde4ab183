package gopub

import "time"

// Timer measures elapsed time while waiting on the broker.
type Timer interface {
	// Start begins or resumes counting.
	Start()
	// Reset zeroes the elapsed time. A running timer keeps running.
	Reset()
	// Stop pauses counting.
	Stop()
	Elapsed() time.Duration
}

type monotonicTimer struct {
	started time.Time
	elapsed time.Duration
	running bool
}

// NewTimer returns a Timer based on the monotonic clock.
func NewTimer() Timer {
	return new(monotonicTimer)
}

func (t *monotonicTimer) Start() {
	if !t.running {
		t.started = time.Now()
		t.running = true
	}
}

func (t *monotonicTimer) Reset() {
	t.elapsed = 0
	if t.running {
		t.started = time.Now()
	}
}

func (t *monotonicTimer) Stop() {
	if t.running {
		t.elapsed += time.Since(t.started)
		t.running = false
	}
}

func (t *monotonicTimer) Elapsed() time.Duration {
	if t.running {
		return t.elapsed + time.Since(t.started)
	}
	return t.elapsed
}
