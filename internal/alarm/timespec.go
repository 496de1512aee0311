package alarm

import (
	"fmt"
	"strings"
	"time"
)

// TimeOfDay is a validated wall-clock time with no date attached. It is
// timezone-naive: anchoring it to a date happens in that date's location.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// String renders the canonical HH:MM:SS form.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// At anchors the time-of-day to day's calendar date in day's location.
func (t TimeOfDay) At(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, t.Second, 0, day.Location())
}

// TimeOfDayOf extracts the wall-clock reading of an instant.
func TimeOfDayOf(at time.Time) TimeOfDay {
	return TimeOfDay{Hour: at.Hour(), Minute: at.Minute(), Second: at.Second()}
}

// ParseTimeOfDay parses a human-entered time string. Accepted layouts, in
// priority order: HH:MM:SS, HH:MM, H:MM, and HHMM (four digits, no
// separator). Surrounding whitespace is ignored. A string matching none of
// the layouts fails with unrecognized_format; a matching string with a
// field outside its range fails with out_of_range.
//
// The now parameter is reserved for relative expressions ("in 10 minutes");
// none of the canonical layouts consume it.
func ParseTimeOfDay(input string, now time.Time) (TimeOfDay, error) {
	s := strings.TrimSpace(input)

	var hh, mm, ss string
	switch parts := strings.Split(s, ":"); len(parts) {
	case 3:
		hh, mm, ss = parts[0], parts[1], parts[2]
	case 2:
		hh, mm = parts[0], parts[1]
	case 1:
		if len(s) != 4 {
			return TimeOfDay{}, Errorf(ErrUnrecognizedFormat, "unrecognized time %q", input)
		}
		hh, mm = s[:2], s[2:]
	default:
		return TimeOfDay{}, Errorf(ErrUnrecognizedFormat, "unrecognized time %q", input)
	}

	hour, ok := digits(hh, 1, 2)
	if !ok {
		return TimeOfDay{}, Errorf(ErrUnrecognizedFormat, "unrecognized time %q", input)
	}
	minute, ok := digits(mm, 2, 2)
	if !ok {
		return TimeOfDay{}, Errorf(ErrUnrecognizedFormat, "unrecognized time %q", input)
	}
	second := 0
	if ss != "" {
		second, ok = digits(ss, 2, 2)
		if !ok {
			return TimeOfDay{}, Errorf(ErrUnrecognizedFormat, "unrecognized time %q", input)
		}
	}

	switch {
	case hour > 23:
		return TimeOfDay{}, Errorf(ErrOutOfRange, "hour out of range in %q", input)
	case minute > 59:
		return TimeOfDay{}, Errorf(ErrOutOfRange, "minute out of range in %q", input)
	case second > 59:
		return TimeOfDay{}, Errorf(ErrOutOfRange, "second out of range in %q", input)
	}

	return TimeOfDay{Hour: hour, Minute: minute, Second: second}, nil
}

// digits converts s when it is all ASCII digits and its length lies within
// [minLen, maxLen].
func digits(s string, minLen, maxLen int) (int, bool) {
	if len(s) < minLen || len(s) > maxLen {
		return 0, false
	}
	v := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		v = v*10 + int(r-'0')
	}
	return v, true
}
