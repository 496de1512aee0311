// Package alarm implements the alarm-clock core: time parsing, next-fire
// calculation, a drift-tolerant single-shot timer, the per-alarm state
// machine, and the registry that owns the machines and fans their events
// out. Nothing in here knows how the surrounding platform delivers
// commands or consumes notifications.
package alarm

import (
	"time"
)

// Phase is an alarm's position in its lifecycle.
type Phase string

const (
	// PhaseIdle means the alarm is not scheduled to fire.
	PhaseIdle Phase = "idle"
	// PhaseArmed means a fire instant is scheduled.
	PhaseArmed Phase = "armed"
	// PhaseTriggered means the alarm is ringing, waiting for stop or
	// snooze. No timer is outstanding.
	PhaseTriggered Phase = "triggered"
	// PhaseSnoozed means the alarm rang and was pushed out by the snooze
	// duration.
	PhaseSnoozed Phase = "snoozed"
)

// DefaultSnoozeMinutes is the clock-radio classic.
const DefaultSnoozeMinutes = 9

// SolarEvent selects sunrise or sunset scheduling for an alarm. The empty
// value means a fixed time-of-day alarm.
type SolarEvent string

const (
	SolarNone    SolarEvent = ""
	SolarSunrise SolarEvent = "sunrise"
	SolarSunset  SolarEvent = "sunset"
)

// Valid reports whether e is one of the known solar events.
func (e SolarEvent) Valid() bool {
	switch e {
	case SolarNone, SolarSunrise, SolarSunset:
		return true
	}
	return false
}

// SolarSchedule yields upcoming solar-event instants. Implemented by
// internal/solar; nil when the deployment has no coordinates configured.
type SolarSchedule interface {
	// Next returns the first occurrence of event strictly after the given
	// instant, with offset applied.
	Next(event SolarEvent, offset time.Duration, after time.Time) (time.Time, error)
}

// Config is the immutable description of one alarm.
type Config struct {
	// ID is unique within the registry. It shows up in entity ids, event
	// payloads, state-file keys, and API paths.
	ID string

	// Name is the human-facing label. Defaults to ID when empty.
	Name string

	// SnoozeMinutes is the default snooze duration. Zero means
	// DefaultSnoozeMinutes.
	SnoozeMinutes int

	// SolarEvent, when set, derives the fire time from the sun instead of
	// a stored time-of-day. SolarOffset shifts the derived instant.
	SolarEvent  SolarEvent
	SolarOffset time.Duration
}

// Snapshot is a point-in-time copy of one alarm's observable state.
type Snapshot struct {
	ID            string
	Name          string
	Enabled       bool
	Phase         Phase
	AlarmTime     string // canonical HH:MM:SS, empty when unset
	SnoozeMinutes int
	SolarEvent    SolarEvent
	NextFireAt    time.Time // zero when no fire is scheduled
	FiredOn       time.Time // zero when the alarm has not fired
}

// StoredState is the restorable slice of an alarm's state. Phase and the
// next fire instant are derived on restore, never persisted.
type StoredState struct {
	AlarmTime     string `json:"alarm_time,omitempty"`
	Enabled       bool   `json:"enabled"`
	SnoozeMinutes int    `json:"snooze_minutes"`
}

// Stored reduces the snapshot to its persistable fields. A solar alarm's
// displayed time is derived, so it is not written out.
func (s Snapshot) Stored() StoredState {
	st := StoredState{
		Enabled:       s.Enabled,
		SnoozeMinutes: s.SnoozeMinutes,
	}
	if s.SolarEvent == SolarNone {
		st.AlarmTime = s.AlarmTime
	}
	return st
}

// EventType distinguishes the notifications an alarm emits.
type EventType string

const (
	// EventStateChanged is emitted on every phase transition and on
	// attribute updates, carrying a full snapshot.
	EventStateChanged EventType = "state_changed"
	// EventTriggered is emitted exactly once per entry into
	// PhaseTriggered, after the accompanying state change.
	EventTriggered EventType = "triggered"
)

// Event is a notification produced by an alarm.
type Event struct {
	// ID is unique per emission.
	ID        string
	Type      EventType
	AlarmID   string
	Phase     Phase
	PrevPhase Phase
	At        time.Time
	Snapshot  Snapshot
}

// EventHandler consumes alarm events. Handlers run synchronously on the
// emitting goroutine in per-alarm emission order; the emitting alarm's
// command lock is held, so commands issued to other alarms are fine but a
// command back to the emitting alarm deadlocks.
type EventHandler func(Event)
