package alarm

import (
	"sync"
	"time"

	"github.com/DGTLMagician/hass-alarmclock/internal/clock"
)

// recheckInterval caps how long the fire timer sleeps before re-reading the
// wall clock. Deadlines are held as absolute instants and re-evaluated on
// every wake, so an NTP or DST jump forward is noticed within one interval
// and a jump backward just extends the countdown.
const recheckInterval = 30 * time.Second

// FireTimer schedules a single callback at an absolute wall-clock instant.
// At most one deadline is armed at a time; Arm replaces a previous one.
// Cancel prevents any arm whose deadline has not yet been reached from
// firing. A cancel racing the deadline itself may lose to the callback, so
// callers needing a hard post-cancel guarantee must revalidate their own
// state inside the callback; Alarm does exactly that under its lock.
type FireTimer struct {
	clk clock.Clock

	mu      sync.Mutex
	seq     uint64
	pending clock.Timer
	fireAt  time.Time
	fn      func()
}

func NewFireTimer(clk clock.Clock) *FireTimer {
	return &FireTimer{clk: clk}
}

// Arm schedules fn to run once, on its own goroutine, at the first
// wall-clock reading at or after at. Any previously armed deadline is
// cancelled first.
func (t *FireTimer) Arm(at time.Time, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	if t.pending != nil {
		t.pending.Stop()
	}
	t.fireAt = at
	t.fn = fn
	t.scheduleLocked()
}

// Cancel discards the armed deadline, if any.
func (t *FireTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
	t.fn = nil
}

func (t *FireTimer) scheduleLocked() {
	seq := t.seq
	d := t.fireAt.Sub(t.clk.Now())
	if d > recheckInterval {
		d = recheckInterval
	}
	if d < 0 {
		d = 0
	}
	t.pending = t.clk.AfterFunc(d, func() { t.wake(seq) })
}

// wake runs on the timer goroutine whenever a sleep chunk elapses. The
// sequence number identifies the arm the chunk belongs to; a stale number
// means the arm was cancelled or replaced while the chunk slept.
func (t *FireTimer) wake(seq uint64) {
	t.mu.Lock()
	if seq != t.seq {
		t.mu.Unlock()
		return
	}
	if t.clk.Now().Before(t.fireAt) {
		t.scheduleLocked()
		t.mu.Unlock()
		return
	}
	// Consume the arm so nothing can fire it a second time.
	t.seq++
	fn := t.fn
	t.fn = nil
	t.pending = nil
	t.mu.Unlock()
	fn()
}
