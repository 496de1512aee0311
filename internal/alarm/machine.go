package alarm

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DGTLMagician/hass-alarmclock/internal/clock"
)

// Alarm owns one alarm clock's state. Commands and the timer-fire path are
// serialized by cmdMu, so no two mutations of the same alarm overlap and
// events leave in the order the transitions happened. The inner mu guards
// the fields for lock-free readers (Snapshot).
//
// Event handlers run on the goroutine that caused the transition while
// cmdMu is still held; a handler that issues a command back to the same
// alarm would deadlock. Handlers observe state through the event's
// snapshot or via Snapshot, both safe.
type Alarm struct {
	cfg    Config
	clk    clock.Clock
	solar  SolarSchedule
	logger *zap.Logger
	emit   EventHandler
	timer  *FireTimer

	cmdMu sync.Mutex

	mu            sync.Mutex
	closed        bool
	enabled       bool
	timeSet       bool
	alarmTime     TimeOfDay
	snoozeMinutes int
	phase         Phase
	nextFireAt    time.Time
	firedOn       time.Time
}

// newAlarm wires a machine; the registry is the only constructor. emit may
// be nil for machines that nobody observes.
func newAlarm(cfg Config, clk clock.Clock, solar SolarSchedule, logger *zap.Logger, emit EventHandler) *Alarm {
	snooze := cfg.SnoozeMinutes
	if snooze <= 0 {
		snooze = DefaultSnoozeMinutes
	}
	return &Alarm{
		cfg:           cfg,
		clk:           clk,
		solar:         solar,
		logger:        logger,
		emit:          emit,
		timer:         NewFireTimer(clk),
		snoozeMinutes: snooze,
		phase:         PhaseIdle,
	}
}

// ID returns the alarm's identifier.
func (a *Alarm) ID() string {
	return a.cfg.ID
}

// Name returns the display name, falling back to the identifier.
func (a *Alarm) Name() string {
	if a.cfg.Name == "" {
		return a.cfg.ID
	}
	return a.cfg.Name
}

// Snapshot returns a copy of the alarm's observable state.
func (a *Alarm) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Alarm) snapshotLocked() Snapshot {
	s := Snapshot{
		ID:            a.cfg.ID,
		Name:          a.Name(),
		Enabled:       a.enabled,
		Phase:         a.phase,
		SnoozeMinutes: a.snoozeMinutes,
		SolarEvent:    a.cfg.SolarEvent,
		NextFireAt:    a.nextFireAt,
		FiredOn:       a.firedOn,
	}
	switch {
	case a.cfg.SolarEvent != SolarNone:
		// A solar alarm's displayed time is derived from its schedule.
		if !a.nextFireAt.IsZero() {
			s.AlarmTime = TimeOfDayOf(a.nextFireAt).String()
		}
	case a.timeSet:
		s.AlarmTime = a.alarmTime.String()
	}
	return s
}

// SetAlarm parses timeStr, stores it, enables the alarm, and arms the
// timer for the next occurrence. Valid in every phase; a parse failure
// leaves the alarm untouched. Setting a time explicitly clears the
// fired-today marker, so a time still ahead today fires today even after
// an earlier stop.
func (a *Alarm) SetAlarm(timeStr string) error {
	parsed, err := ParseTimeOfDay(timeStr, a.clk.Now())
	if err != nil {
		return err
	}

	a.cmdMu.Lock()
	defer a.cmdMu.Unlock()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return Errorf(ErrInvalidState, "alarm %q is shut down", a.cfg.ID)
	}
	if a.cfg.SolarEvent != SolarNone {
		a.mu.Unlock()
		return Errorf(ErrInvalidState, "alarm %q derives its time from %s", a.cfg.ID, a.cfg.SolarEvent)
	}
	now := a.clk.Now()
	prev := a.phase
	a.alarmTime = parsed
	a.timeSet = true
	a.firedOn = time.Time{}
	fireAt := NextFire(parsed, now, time.Time{})
	a.armLocked(fireAt, PhaseArmed)
	ev := a.eventLocked(EventStateChanged, prev, now)
	a.mu.Unlock()

	a.logger.Info("Alarm set",
		zap.String("alarm_time", parsed.String()),
		zap.Time("next_fire", fireAt))
	a.dispatch(ev)
	return nil
}

// Enable re-arms the alarm from its stored time (or solar schedule).
// Fails when no fire time can be derived.
func (a *Alarm) Enable() error {
	a.cmdMu.Lock()
	defer a.cmdMu.Unlock()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return Errorf(ErrInvalidState, "alarm %q is shut down", a.cfg.ID)
	}
	now := a.clk.Now()
	fireAt, err := a.nextOccurrenceLocked(now)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	prev := a.phase
	a.armLocked(fireAt, PhaseArmed)
	ev := a.eventLocked(EventStateChanged, prev, now)
	a.mu.Unlock()

	a.logger.Info("Alarm enabled", zap.Time("next_fire", fireAt))
	a.dispatch(ev)
	return nil
}

// Disable cancels the pending fire and parks the alarm in idle. Only valid
// while armed or snoozed; once the alarm is ringing the choice is snooze
// or stop.
func (a *Alarm) Disable() error {
	a.cmdMu.Lock()
	defer a.cmdMu.Unlock()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return Errorf(ErrInvalidState, "alarm %q is shut down", a.cfg.ID)
	}
	if a.phase != PhaseArmed && a.phase != PhaseSnoozed {
		phase := a.phase
		a.mu.Unlock()
		return Errorf(ErrInvalidState, "cannot disable alarm %q while %s", a.cfg.ID, phase)
	}
	now := a.clk.Now()
	prev := a.phase
	a.timer.Cancel()
	a.enabled = false
	a.nextFireAt = time.Time{}
	a.phase = PhaseIdle
	ev := a.eventLocked(EventStateChanged, prev, now)
	a.mu.Unlock()

	a.logger.Info("Alarm disabled")
	a.dispatch(ev)
	return nil
}

// Snooze pushes a ringing alarm out by the current snooze duration. Only
// valid from triggered; a second snooze without an intervening re-trigger
// is rejected.
func (a *Alarm) Snooze() error {
	a.cmdMu.Lock()
	defer a.cmdMu.Unlock()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return Errorf(ErrInvalidState, "alarm %q is shut down", a.cfg.ID)
	}
	if a.phase != PhaseTriggered {
		phase := a.phase
		a.mu.Unlock()
		return Errorf(ErrInvalidState, "cannot snooze alarm %q while %s", a.cfg.ID, phase)
	}
	now := a.clk.Now()
	prev := a.phase
	fireAt := now.Add(time.Duration(a.snoozeMinutes) * time.Minute)
	a.armLocked(fireAt, PhaseSnoozed)
	ev := a.eventLocked(EventStateChanged, prev, now)
	snooze := a.snoozeMinutes
	a.mu.Unlock()

	a.logger.Info("Alarm snoozed",
		zap.Int("snooze_minutes", snooze),
		zap.Time("next_fire", fireAt))
	a.dispatch(ev)
	return nil
}

// Stop silences a ringing or snoozed alarm. The alarm stays enabled and
// re-arms for its next occurrence (the fired-today marker pushes a fixed
// time to tomorrow); it only drops to idle when no occurrence can be
// derived.
func (a *Alarm) Stop() error {
	a.cmdMu.Lock()
	defer a.cmdMu.Unlock()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return Errorf(ErrInvalidState, "alarm %q is shut down", a.cfg.ID)
	}
	if a.phase != PhaseTriggered && a.phase != PhaseSnoozed {
		phase := a.phase
		a.mu.Unlock()
		return Errorf(ErrInvalidState, "cannot stop alarm %q while %s", a.cfg.ID, phase)
	}
	now := a.clk.Now()
	prev := a.phase
	a.timer.Cancel()
	a.nextFireAt = time.Time{}

	var rearmErr error
	if a.enabled {
		fireAt, err := a.nextOccurrenceLocked(now)
		if err == nil {
			a.armLocked(fireAt, PhaseArmed)
		} else {
			rearmErr = err
			a.enabled = false
			a.phase = PhaseIdle
		}
	} else {
		a.phase = PhaseIdle
	}
	ev := a.eventLocked(EventStateChanged, prev, now)
	phase := a.phase
	next := a.nextFireAt
	a.mu.Unlock()

	if rearmErr != nil {
		a.logger.Warn("Alarm stopped but could not re-arm", zap.Error(rearmErr))
	} else {
		a.logger.Info("Alarm stopped",
			zap.String("phase", string(phase)),
			zap.Time("next_fire", next))
	}
	a.dispatch(ev)
	return nil
}

// SetSnoozeMinutes overrides the snooze duration. Takes effect on the next
// snooze; a deadline already armed by an earlier snooze is left alone.
func (a *Alarm) SetSnoozeMinutes(minutes int) error {
	if minutes < 1 {
		return Errorf(ErrOutOfRange, "snooze duration %d is not a positive number of minutes", minutes)
	}

	a.cmdMu.Lock()
	defer a.cmdMu.Unlock()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return Errorf(ErrInvalidState, "alarm %q is shut down", a.cfg.ID)
	}
	if a.snoozeMinutes == minutes {
		a.mu.Unlock()
		return nil
	}
	now := a.clk.Now()
	prev := a.phase
	a.snoozeMinutes = minutes
	ev := a.eventLocked(EventStateChanged, prev, now)
	a.mu.Unlock()

	a.logger.Info("Snooze duration updated", zap.Int("snooze_minutes", minutes))
	a.dispatch(ev)
	return nil
}

// Restore adopts persisted fields and deterministically re-arms. Phase and
// the next fire instant are derived, so a restart that happened during
// triggered or snoozed lands back on the armed schedule.
func (a *Alarm) Restore(st StoredState) error {
	a.cmdMu.Lock()
	defer a.cmdMu.Unlock()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return Errorf(ErrInvalidState, "alarm %q is shut down", a.cfg.ID)
	}
	now := a.clk.Now()

	var (
		parsed  TimeOfDay
		hasTime bool
	)
	if st.AlarmTime != "" && a.cfg.SolarEvent == SolarNone {
		p, err := ParseTimeOfDay(st.AlarmTime, now)
		if err != nil {
			a.mu.Unlock()
			return err
		}
		parsed, hasTime = p, true
	}

	if st.SnoozeMinutes > 0 {
		a.snoozeMinutes = st.SnoozeMinutes
	}
	if hasTime {
		a.alarmTime = parsed
		a.timeSet = true
	}

	prev := a.phase
	if st.Enabled {
		fireAt, err := a.nextOccurrenceLocked(now)
		if err != nil {
			a.mu.Unlock()
			return err
		}
		a.armLocked(fireAt, PhaseArmed)
	} else {
		a.timer.Cancel()
		a.enabled = false
		a.nextFireAt = time.Time{}
		a.phase = PhaseIdle
	}
	ev := a.eventLocked(EventStateChanged, prev, now)
	phase := a.phase
	next := a.nextFireAt
	a.mu.Unlock()

	a.logger.Info("Alarm restored",
		zap.String("phase", string(phase)),
		zap.Time("next_fire", next))
	a.dispatch(ev)
	return nil
}

// handleFire runs on the timer goroutine when the armed deadline arrives.
// Phase is revalidated under the lock: a disable, stop, or close that beat
// this callback has already withdrawn the alarm's claim to fire.
func (a *Alarm) handleFire() {
	a.cmdMu.Lock()
	defer a.cmdMu.Unlock()

	a.mu.Lock()
	if a.closed || (a.phase != PhaseArmed && a.phase != PhaseSnoozed) {
		a.mu.Unlock()
		return
	}
	now := a.clk.Now()
	prev := a.phase
	a.firedOn = now
	a.nextFireAt = time.Time{}
	a.phase = PhaseTriggered
	evs := []Event{
		a.eventLocked(EventStateChanged, prev, now),
		a.eventLocked(EventTriggered, prev, now),
	}
	a.mu.Unlock()

	a.logger.Info("Alarm fired", zap.Time("at", now))
	a.dispatch(evs...)
}

/// close tears the machine down: the timer is cancelled and every later
// command is rejected with invalid_state. Called by the registry on
// unregistration and shutdown.
func (a *Alarm) close() {
	a.cmdMu.Lock()
	defer a.cmdMu.Unlock()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.timer.Cancel()
	a.enabled = false
	a.nextFireAt = time.Time{}
	a.phase = PhaseIdle
	a.mu.Unlock()
}

// armLocked installs the timer for fireAt and records the new phase.
// Requires both cmdMu and mu.
func (a *Alarm) armLocked(fireAt time.Time, phase Phase) {
	a.enabled = true
	a.nextFireAt = fireAt
	a.phase = phase
	a.timer.Arm(fireAt, a.handleFire)
}

// nextOccurrenceLocked derives the next fire instant from the stored
// time-of-day or the solar schedule. Requires mu.
func (a *Alarm) nextOccurrenceLocked(now time.Time) (time.Time, error) {
	if a.cfg.SolarEvent != SolarNone {
		if a.solar == nil {
			return time.Time{}, Errorf(ErrInvalidState,
				"alarm %q needs location coordinates for %s scheduling", a.cfg.ID, a.cfg.SolarEvent)
		}
		at, err := a.solar.Next(a.cfg.SolarEvent, a.cfg.SolarOffset, now)
		if err != nil {
			return time.Time{}, err
		}
		if sameDay(at, now) && sameDay(a.firedOn, now) {
			// Already fired today; skip to the next day's occurrence.
			at, err = a.solar.Next(a.cfg.SolarEvent, a.cfg.SolarOffset, startOfNextDay(now))
			if err != nil {
				return time.Time{}, err
			}
		}
		return at, nil
	}
	if !a.timeSet {
		return time.Time{}, Errorf(ErrInvalidState, "alarm %q has no alarm time", a.cfg.ID)
	}
	return NextFire(a.alarmTime, now, a.firedOn), nil
}

func (a *Alarm) eventLocked(typ EventType, prev Phase, at time.Time) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      typ,
		AlarmID:   a.cfg.ID,
		Phase:     a.phase,
		PrevPhase: prev,
		At:        at,
		Snapshot:  a.snapshotLocked(),
	}
}

func (a *Alarm) dispatch(evs ...Event) {
	if a.emit == nil {
		return
	}
	for _, ev := range evs {
		a.emit(ev)
	}
}
