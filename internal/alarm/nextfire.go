package alarm

import "time"

// NextFire returns the first instant strictly after now at which an alarm
// set to t should fire. Today's occurrence wins when it is still ahead and
// the alarm has not already fired today (lastFired tracks that, zero means
// never); otherwise the same time-of-day tomorrow. Date arithmetic runs in
// now's location, so a DST shift lands on the wall-clock reading rather
// than a fixed duration later.
func NextFire(t TimeOfDay, now time.Time, lastFired time.Time) time.Time {
	candidate := t.At(now)
	if candidate.After(now) && !sameDay(lastFired, now) {
		return candidate
	}
	return t.At(now.AddDate(0, 0, 1))
}

// sameDay reports whether a and b fall on the same calendar day in b's
// location. A zero a never matches.
func sameDay(a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	ay, am, ad := a.In(b.Location()).Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// startOfNextDay returns midnight after now, in now's location.
func startOfNextDay(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
}
