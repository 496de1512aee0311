package ha

import (
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DGTLMagician/hass-alarmclock/internal/alarm"
)

// Bridge projects the alarm registry onto Home Assistant helper entities
// and translates entity changes back into alarm commands.
//
// Every outbound write is remembered in a mirror map keyed by entity id.
// Inbound changes matching the mirror are echoes of our own writes and are
// dropped; anything else is adopted into the mirror and treated as user
// input. A second guard compares the incoming value against the alarm's
// snapshot, so a stale echo that slipped past the mirror still cannot
// issue a command the alarm state does not call for.
//
// Rejected edits are answered by rewriting the entity with the alarm's
// last good value, so the UI never keeps showing input the daemon refused.
type Bridge struct {
	client   HAClient
	registry *alarm.Registry
	logger   *zap.Logger
	readOnly bool

	mu       sync.Mutex
	started  bool
	mirrored map[string]string
	subs     []Subscription
	regSub   *alarm.Subscription
}

// NewBridge wires a registry to a Home Assistant client. With readOnly set
// the bridge logs what it would write without touching any entity.
func NewBridge(client HAClient, registry *alarm.Registry, logger *zap.Logger, readOnly bool) *Bridge {
	return &Bridge{
		client:   client,
		registry: registry,
		logger:   logger.Named("bridge"),
		readOnly: readOnly,
		mirrored: make(map[string]string),
	}
}

// Start subscribes to the registry and to the helper entities of every
// alarm registered at this point, then publishes each alarm's current
// state. Alarms registered later are not wired up.
func (b *Bridge) Start() error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = true
	b.mu.Unlock()

	b.logger.Info("Starting Home Assistant bridge",
		zap.Bool("read_only", b.readOnly))

	b.regSub = b.registry.Subscribe(b.handleAlarmEvent)

	for _, a := range b.registry.List() {
		b.wire(a.ID())
		b.publish(a.Snapshot())
	}

	b.logger.Info("Home Assistant bridge started",
		zap.Int("alarms", len(b.registry.List())))
	return nil
}

// Stop detaches the bridge from the registry and the client.
func (b *Bridge) Stop() {
	b.logger.Info("Stopping Home Assistant bridge")

	b.mu.Lock()
	subs := b.subs
	regSub := b.regSub
	b.subs = nil
	b.regSub = nil
	b.mirrored = make(map[string]string)
	b.started = false
	b.mu.Unlock()

	if regSub != nil {
		regSub.Unsubscribe()
	}
	for _, sub := range subs {
		sub.Unsubscribe()
	}

	b.logger.Info("Home Assistant bridge stopped")
}

// wire subscribes the five inbound entities of one alarm.
func (b *Bridge) wire(alarmID string) {
	ents := entitiesFor(alarmID)

	b.subscribe(ents.AlarmTime, func(old, new *State) {
		b.onAlarmTime(alarmID, new)
	})
	b.subscribe(ents.Enabled, func(old, new *State) {
		b.onEnabled(alarmID, new)
	})
	b.subscribe(ents.SnoozeMinutes, func(old, new *State) {
		b.onSnoozeMinutes(alarmID, new)
	})
	b.subscribe(ents.SnoozeButton, func(old, new *State) {
		if buttonPressed(old, new) {
			b.onSnoozeButton(alarmID)
		}
	})
	b.subscribe(ents.StopButton, func(old, new *State) {
		if buttonPressed(old, new) {
			b.onStopButton(alarmID)
		}
	})
}

// subscribe registers handler for one entity change stream. Handlers run
// on their own goroutine: a command triggered by an entity change writes
// back to other entities, and those round trips must not block the
// client's receive loop.
func (b *Bridge) subscribe(entityID string, handler func(old, new *State)) {
	sub, err := b.client.SubscribeStateChanges(entityID, func(_ string, old, new *State) {
		go handler(old, new)
	})
	if err != nil {
		b.logger.Error("Failed to subscribe to entity",
			zap.String("entity_id", entityID), zap.Error(err))
		return
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
}

// buttonPressed distinguishes a real input_button press from the state
// restore Home Assistant broadcasts on startup.
func buttonPressed(old, new *State) bool {
	if new == nil || new.State == "" || new.State == "unknown" || new.State == "unavailable" {
		return false
	}
	if old == nil || old.State == "" || old.State == "unknown" || old.State == "unavailable" {
		return false
	}
	return old.State != new.State
}

// handleAlarmEvent publishes alarm events to Home Assistant. It runs on
// the alarm's dispatch goroutine, so entity writes here keep per-alarm
// ordering.
func (b *Bridge) handleAlarmEvent(ev alarm.Event) {
	switch ev.Type {
	case alarm.EventStateChanged:
		b.publish(ev.Snapshot)
	case alarm.EventTriggered:
		b.fireTrigger(ev)
	}
}

func (b *Bridge) fireTrigger(ev alarm.Event) {
	if b.readOnly {
		b.logger.Info("READ-ONLY: Would fire trigger event",
			zap.String("alarm_id", ev.AlarmID))
		return
	}
	err := b.client.FireEvent(TriggerEventType, map[string]interface{}{
		"alarm_id": ev.AlarmID,
		"event_id": ev.ID,
		"fired_at": ev.At.Format(time.RFC3339),
	})
	if err != nil {
		b.logger.Error("Failed to fire trigger event",
			zap.String("alarm_id", ev.AlarmID), zap.Error(err))
		return
	}
	b.logger.Info("Fired trigger event", zap.String("alarm_id", ev.AlarmID))
}

// publish writes one alarm's observable state to its entities.
func (b *Bridge) publish(snap alarm.Snapshot) {
	ents := entitiesFor(snap.ID)

	b.writeText(ents.AlarmTime, snap.AlarmTime)
	b.writeBool(ents.Enabled, snap.Enabled)
	b.writeNumber(ents.SnoozeMinutes, float64(snap.SnoozeMinutes))
	b.writeText(ents.Status, string(snap.Phase))
	b.writeText(ents.NextFire, formatNextFire(snap.NextFireAt))
}

func formatNextFire(at time.Time) string {
	if at.IsZero() {
		return ""
	}
	return at.Format(time.RFC3339)
}

// remember stores a value in the mirror and reports whether it differed
// from what the mirror held. Outbound writes use a false result to skip a
// call the entity does not need; inbound handlers use it to drop echoes
// of the bridge's own writes.
func (b *Bridge) remember(entityID, value string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if last, seen := b.mirrored[entityID]; seen && last == value {
		return false
	}
	b.mirrored[entityID] = value
	return true
}

func (b *Bridge) writeText(entityID, value string) {
	if b.readOnly {
		b.logger.Info("READ-ONLY: Would set input_text",
			zap.String("entity_id", entityID), zap.String("value", value))
		return
	}
	if !b.remember(entityID, value) {
		return
	}
	if err := b.client.SetInputText(nameOf(entityID), value); err != nil {
		b.logger.Error("Failed to set input_text",
			zap.String("entity_id", entityID), zap.Error(err))
	}
}

func (b *Bridge) writeBool(entityID string, value bool) {
	state := "off"
	if value {
		state = "on"
	}
	if b.readOnly {
		b.logger.Info("READ-ONLY: Would set input_boolean",
			zap.String("entity_id", entityID), zap.String("value", state))
		return
	}
	if !b.remember(entityID, state) {
		return
	}
	if err := b.client.SetInputBoolean(nameOf(entityID), value); err != nil {
		b.logger.Error("Failed to set input_boolean",
			zap.String("entity_id", entityID), zap.Error(err))
	}
}

func (b *Bridge) writeNumber(entityID string, value float64) {
	formatted := strconv.FormatFloat(value, 'f', -1, 64)
	if b.readOnly {
		b.logger.Info("READ-ONLY: Would set input_number",
			zap.String("entity_id", entityID), zap.String("value", formatted))
		return
	}
	if !b.remember(entityID, formatted) {
		return
	}
	if err := b.client.SetInputNumber(nameOf(entityID), value); err != nil {
		b.logger.Error("Failed to set input_number",
			zap.String("entity_id", entityID), zap.Error(err))
	}
}

func (b *Bridge) alarmFor(alarmID string) *alarm.Alarm {
	a, err := b.registry.Get(alarmID)
	if err != nil {
		b.logger.Debug("Entity change for unknown alarm",
			zap.String("alarm_id", alarmID))
		return nil
	}
	return a
}

// onAlarmTime handles edits of the alarm-time text entity.
func (b *Bridge) onAlarmTime(alarmID string, new *State) {
	if new == nil {
		return
	}
	ents := entitiesFor(alarmID)
	if !b.remember(ents.AlarmTime, new.State) {
		return
	}
	a := b.alarmFor(alarmID)
	if a == nil {
		return
	}

	snap := a.Snapshot()
	if new.State == snap.AlarmTime {
		return
	}

	if err := a.SetAlarm(new.State); err != nil {
		b.logger.Warn("Rejected alarm time from entity",
			zap.String("alarm_id", alarmID),
			zap.String("value", new.State),
			zap.String("reason", alarm.ErrorDescription(err)))
		// Put the last good value back so the UI shows the truth.
		b.writeText(ents.AlarmTime, snap.AlarmTime)
	}
}

// onEnabled handles the enable switch. Switching off a ringing alarm is
// read as silence-and-disable.
func (b *Bridge) onEnabled(alarmID string, new *State) {
	if new == nil || (new.State != "on" && new.State != "off") {
		return
	}
	ents := entitiesFor(alarmID)
	if !b.remember(ents.Enabled, new.State) {
		return
	}
	a := b.alarmFor(alarmID)
	if a == nil {
		return
	}

	on := new.State == "on"
	snap := a.Snapshot()
	if on == snap.Enabled {
		return
	}

	var err error
	if on {
		err = a.Enable()
	} else {
		err = a.Disable()
		if err != nil && snap.Phase == alarm.PhaseTriggered {
			if stopErr := a.Stop(); stopErr == nil {
				err = a.Disable()
			}
		}
	}
	if err != nil {
		b.logger.Warn("Rejected enable switch from entity",
			zap.String("alarm_id", alarmID),
			zap.Bool("value", on),
			zap.String("reason", alarm.ErrorDescription(err)))
		b.writeBool(ents.Enabled, snap.Enabled)
	}
}

// onSnoozeMinutes handles edits of the snooze-duration number entity.
func (b *Bridge) onSnoozeMinutes(alarmID string, new *State) {
	if new == nil {
		return
	}
	ents := entitiesFor(alarmID)
	if !b.remember(ents.SnoozeMinutes, new.State) {
		return
	}
	a := b.alarmFor(alarmID)
	if a == nil {
		return
	}

	snap := a.Snapshot()
	value, err := strconv.ParseFloat(new.State, 64)
	if err != nil {
		b.logger.Warn("Unreadable snooze duration from entity",
			zap.String("alarm_id", alarmID),
			zap.String("value", new.State))
		b.writeNumber(ents.SnoozeMinutes, float64(snap.SnoozeMinutes))
		return
	}

	minutes := int(value)
	if minutes == snap.SnoozeMinutes {
		return
	}
	if err := a.SetSnoozeMinutes(minutes); err != nil {
		b.logger.Warn("Rejected snooze duration from entity",
			zap.String("alarm_id", alarmID),
			zap.Int("value", minutes),
			zap.String("reason", alarm.ErrorDescription(err)))
		b.writeNumber(ents.SnoozeMinutes, float64(snap.SnoozeMinutes))
	}
}

func (b *Bridge) onSnoozeButton(alarmID string) {
	a := b.alarmFor(alarmID)
	if a == nil {
		return
	}
	if err := a.Snooze(); err != nil {
		b.logger.Warn("Snooze button pressed at the wrong time",
			zap.String("alarm_id", alarmID),
			zap.String("reason", alarm.ErrorDescription(err)))
	}
}

func (b *Bridge) onStopButton(alarmID string) {
	a := b.alarmFor(alarmID)
	if a == nil {
		return
	}
	if err := a.Stop(); err != nil {
		b.logger.Warn("Stop button pressed at the wrong time",
			zap.String("alarm_id", alarmID),
			zap.String("reason", alarm.ErrorDescription(err)))
	}
}
