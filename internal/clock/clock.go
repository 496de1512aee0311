// Package clock abstracts wall-clock access so timer-driven code can be
// exercised deterministically. Production code takes a Clock and is handed
// RealClock; tests hand it a MockClock and move time by hand.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the time surface used by the scheduling code.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time

	// After returns a channel that receives the time once d has elapsed.
	After(d time.Duration) <-chan time.Time

	// AfterFunc runs f on its own goroutine once d has elapsed and returns
	// a Timer whose Stop cancels the call.
	AfterFunc(d time.Duration, f func()) Timer

	// Sleep blocks for at least d.
	Sleep(d time.Duration)

	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration
}

// Timer is a single pending callback.
type Timer interface {
	// Stop cancels the timer. It reports whether the call prevented the
	// timer from firing.
	Stop() bool

	// Reset re-schedules the timer d from now and reports whether it was
	// still pending.
	Reset(d time.Duration) bool
}

// RealClock delegates to the time package.
type RealClock struct{}

func NewRealClock() *RealClock {
	return &RealClock{}
}

func (c *RealClock) Now() time.Time {
	return time.Now()
}

func (c *RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (c *RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return &realTimer{t: time.AfterFunc(d, f)}
}

func (c *RealClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

func (c *RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

type realTimer struct {
	t *time.Timer
}

func (t *realTimer) Stop() bool {
	return t.t.Stop()
}

func (t *realTimer) Reset(d time.Duration) bool {
	return t.t.Reset(d)
}

// MockClock is a manually driven Clock. Time stands still until the test
// calls Advance or Set; expired callbacks run synchronously on the caller's
// goroutine, in deadline order.
type MockClock struct {
	mu      sync.Mutex
	current time.Time
	timers  []*mockTimer
}

func NewMockClock(start time.Time) *MockClock {
	return &MockClock{current: start}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *MockClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.AfterFunc(d, func() {
		ch <- c.Now()
	})
	return ch
}

func (c *MockClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTimer{
		clock:    c,
		deadline: c.current.Add(d),
		f:        f,
	}
	c.timers = append(c.timers, t)
	return t
}

// Sleep returns immediately. Mock time only moves through Advance and Set.
func (c *MockClock) Sleep(d time.Duration) {}

func (c *MockClock) Since(t time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Sub(t)
}

// Advance moves the clock forward by d and fires every timer whose deadline
// has been reached. Callbacks run after the clock already shows the new
// time, so a callback that re-reads Now observes the post-advance instant.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	now := c.current

	var due, pending []*mockTimer
	for _, t := range c.timers {
		t.mu.Lock()
		switch {
		case t.stopped:
		case !t.deadline.After(now):
			due = append(due, t)
		default:
			pending = append(pending, t)
		}
		t.mu.Unlock()
	}
	c.timers = pending
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})

	// Fired outside the clock lock so callbacks can schedule new timers.
	for _, t := range due {
		t.mu.Lock()
		if t.stopped {
			t.mu.Unlock()
			continue
		}
		t.stopped = true
		f := t.f
		t.mu.Unlock()
		f()
	}
}

// Set jumps the clock to an absolute instant. A forward jump behaves like
// Advance; a backward jump only rewinds the reading, leaving pending
// deadlines where they are so nothing fires early.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()

	if t.After(current) {
		c.Advance(t.Sub(current))
		return
	}
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

type mockTimer struct {
	clock    *MockClock
	mu       sync.Mutex
	deadline time.Time
	f        func()
	stopped  bool
}

func (t *mockTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	active := !t.stopped
	t.stopped = true
	return active
}

func (t *mockTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	deadline := t.clock.current.Add(d)

	t.mu.Lock()
	active := !t.stopped
	t.stopped = false
	t.deadline = deadline
	t.mu.Unlock()

	if !active {
		t.clock.timers = append(t.clock.timers, t)
	}
	t.clock.mu.Unlock()
	return active
}
