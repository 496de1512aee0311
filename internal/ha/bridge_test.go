package ha

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DGTLMagician/hass-alarmclock/internal/alarm"
	"github.com/DGTLMagician/hass-alarmclock/internal/clock"
)

type bridgeFixture struct {
	bridge *Bridge
	mock   *MockClient
	reg    *alarm.Registry
	clk    *clock.MockClock
	wake   *alarm.Alarm
}

func newBridgeFixture(t *testing.T, readOnly bool) *bridgeFixture {
	t.Helper()

	clk := clock.NewMockClock(time.Date(2024, 5, 14, 6, 0, 0, 0, time.UTC))
	reg := alarm.NewRegistry(clk, nil, zap.NewNop())
	t.Cleanup(reg.Close)

	wake, err := reg.Register(alarm.Config{ID: "wake", Name: "Wake Up", SnoozeMinutes: 5})
	require.NoError(t, err)

	mock := NewMockClient()
	require.NoError(t, mock.Connect())

	// Buttons exist in Home Assistant with a last-press timestamp; seed
	// them so later presses register as changes.
	mock.SetState("input_button.wake_snooze", "2024-01-01T00:00:00+00:00", nil)
	mock.SetState("input_button.wake_stop", "2024-01-01T00:00:00+00:00", nil)

	b := NewBridge(mock, reg, zap.NewNop(), readOnly)
	require.NoError(t, b.Start())
	t.Cleanup(b.Stop)

	return &bridgeFixture{bridge: b, mock: mock, reg: reg, clk: clk, wake: wake}
}

func (f *bridgeFixture) entityState(t *testing.T, entityID string) string {
	t.Helper()
	state, err := f.mock.GetState(entityID)
	require.NoError(t, err)
	return state.State
}

func (f *bridgeFixture) callsFor(entityID string) int {
	n := 0
	for _, call := range f.mock.GetServiceCalls() {
		if call.Data["entity_id"] == entityID {
			n++
		}
	}
	return n
}

// Entity changes are handled on their own goroutine, so tests that feed
// the bridge through the mock client wait for the effect instead of
// asserting right away.
func waitForPhase(t *testing.T, a *alarm.Alarm, want alarm.Phase) {
	t.Helper()
	require.Eventually(t, func() bool {
		return a.Snapshot().Phase == want
	}, time.Second, 5*time.Millisecond, "alarm never reached phase %s", want)
}

func (f *bridgeFixture) waitForEntity(t *testing.T, entityID, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		state, err := f.mock.GetState(entityID)
		return err == nil && state.State == want
	}, time.Second, 5*time.Millisecond, "entity %s never became %q", entityID, want)
}

// settle waits out in-flight entity handlers before a quiet check.
func settle() {
	time.Sleep(50 * time.Millisecond)
}

func TestBridgePublishesStateToEntities(t *testing.T) {
	f := newBridgeFixture(t, false)

	require.NoError(t, f.wake.SetAlarm("07:00"))

	assert.Equal(t, "07:00:00", f.entityState(t, "input_text.wake_alarm_time"))
	assert.Equal(t, "on", f.entityState(t, "input_boolean.wake_enabled"))
	assert.Equal(t, "5.00", f.entityState(t, "input_number.wake_snooze_minutes"))
	assert.Equal(t, "armed", f.entityState(t, "input_text.wake_status"))
	assert.Equal(t, "2024-05-14T07:00:00Z", f.entityState(t, "input_text.wake_next_fire"))
}

func TestBridgeFiresTriggerEvent(t *testing.T) {
	f := newBridgeFixture(t, false)

	require.NoError(t, f.wake.SetAlarm("07:00"))
	f.clk.Advance(time.Hour)

	assert.Equal(t, "triggered", f.entityState(t, "input_text.wake_status"))
	assert.Equal(t, "", f.entityState(t, "input_text.wake_next_fire"))

	events := f.mock.GetFiredEvents()
	require.Len(t, events, 1)
	assert.Equal(t, TriggerEventType, events[0].Type)
	assert.Equal(t, "wake", events[0].Data["alarm_id"])
	assert.NotEmpty(t, events[0].Data["event_id"])
}

func TestBridgeSuppressesItsOwnEchoes(t *testing.T) {
	f := newBridgeFixture(t, false)
	f.mock.ClearServiceCalls()

	require.NoError(t, f.wake.SetAlarm("07:00"))

	// The mock echoes every write back. Without echo suppression each
	// write would re-enter the alarm and write again.
	settle()
	assert.Equal(t, 1, f.callsFor("input_text.wake_alarm_time"))
	assert.Equal(t, 1, f.callsFor("input_boolean.wake_enabled"))
	assert.Equal(t, 1, f.callsFor("input_text.wake_status"))
	assert.Equal(t, 1, f.callsFor("input_text.wake_next_fire"))
	assert.Equal(t, 0, f.callsFor("input_number.wake_snooze_minutes"),
		"unchanged snooze duration is not rewritten")
}

func TestBridgeAppliesAlarmTimeEdit(t *testing.T) {
	f := newBridgeFixture(t, false)

	f.mock.SimulateStateChange("input_text.wake_alarm_time", "6:45")

	waitForPhase(t, f.wake, alarm.PhaseArmed)
	snap := f.wake.Snapshot()
	assert.Equal(t, "06:45:00", snap.AlarmTime)
	assert.Equal(t, time.Date(2024, 5, 14, 6, 45, 0, 0, time.UTC), snap.NextFireAt)

	// The entity is rewritten in canonical form.
	f.waitForEntity(t, "input_text.wake_alarm_time", "06:45:00")
}

func TestBridgeRestoresEntityAfterRejectedEdit(t *testing.T) {
	f := newBridgeFixture(t, false)
	require.NoError(t, f.wake.SetAlarm("07:00"))
	before := f.wake.Snapshot()

	f.mock.SimulateStateChange("input_text.wake_alarm_time", "25:00")

	f.waitForEntity(t, "input_text.wake_alarm_time", "07:00:00")
	assert.Equal(t, before, f.wake.Snapshot(), "rejected edit leaves the alarm alone")
}

func TestBridgeEnableSwitch(t *testing.T) {
	f := newBridgeFixture(t, false)
	require.NoError(t, f.wake.SetAlarm("07:00"))

	f.mock.SimulateStateChange("input_boolean.wake_enabled", "off")

	waitForPhase(t, f.wake, alarm.PhaseIdle)
	assert.False(t, f.wake.Snapshot().Enabled)
	f.waitForEntity(t, "input_text.wake_status", "idle")
	f.waitForEntity(t, "input_text.wake_next_fire", "")

	f.mock.SimulateStateChange("input_boolean.wake_enabled", "on")

	waitForPhase(t, f.wake, alarm.PhaseArmed)
	assert.Equal(t, time.Date(2024, 5, 14, 7, 0, 0, 0, time.UTC), f.wake.Snapshot().NextFireAt)
}

func TestBridgeSwitchOffSilencesRingingAlarm(t *testing.T) {
	f := newBridgeFixture(t, false)
	require.NoError(t, f.wake.SetAlarm("07:00"))
	f.clk.Advance(time.Hour)
	require.Equal(t, alarm.PhaseTriggered, f.wake.Snapshot().Phase)

	f.mock.SimulateStateChange("input_boolean.wake_enabled", "off")

	waitForPhase(t, f.wake, alarm.PhaseIdle)
	assert.False(t, f.wake.Snapshot().Enabled)
	f.waitForEntity(t, "input_text.wake_status", "idle")
}

func TestBridgeSnoozeButton(t *testing.T) {
	f := newBridgeFixture(t, false)
	require.NoError(t, f.wake.SetAlarm("07:00"))
	f.clk.Advance(time.Hour)
	f.clk.Advance(10 * time.Second)

	f.mock.PressButton("wake_snooze")

	waitForPhase(t, f.wake, alarm.PhaseSnoozed)
	assert.Equal(t, time.Date(2024, 5, 14, 7, 5, 10, 0, time.UTC), f.wake.Snapshot().NextFireAt)
	f.waitForEntity(t, "input_text.wake_status", "snoozed")
	f.waitForEntity(t, "input_text.wake_next_fire", "2024-05-14T07:05:10Z")
}

func TestBridgeStopButton(t *testing.T) {
	f := newBridgeFixture(t, false)
	require.NoError(t, f.wake.SetAlarm("07:00"))
	f.clk.Advance(time.Hour)

	f.mock.PressButton("wake_stop")

	waitForPhase(t, f.wake, alarm.PhaseArmed)
	snap := f.wake.Snapshot()
	assert.True(t, snap.Enabled)
	assert.Equal(t, time.Date(2024, 5, 15, 7, 0, 0, 0, time.UTC), snap.NextFireAt)
	f.waitForEntity(t, "input_text.wake_status", "armed")
}

func TestBridgeButtonPressAtWrongTimeIsHarmless(t *testing.T) {
	f := newBridgeFixture(t, false)
	require.NoError(t, f.wake.SetAlarm("07:00"))
	before := f.wake.Snapshot()

	// Pressing snooze while armed is rejected by the state machine.
	f.mock.PressButton("wake_snooze")
	settle()
	assert.Equal(t, before, f.wake.Snapshot())
}

func TestBridgeButtonRestoreIsNotAPress(t *testing.T) {
	clk := clock.NewMockClock(time.Date(2024, 5, 14, 6, 0, 0, 0, time.UTC))
	reg := alarm.NewRegistry(clk, nil, zap.NewNop())
	t.Cleanup(reg.Close)
	wake, err := reg.Register(alarm.Config{ID: "wake"})
	require.NoError(t, err)
	require.NoError(t, wake.SetAlarm("07:00"))
	clk.Advance(time.Hour)
	require.Equal(t, alarm.PhaseTriggered, wake.Snapshot().Phase)

	mock := NewMockClient()
	require.NoError(t, mock.Connect())
	b := NewBridge(mock, reg, zap.NewNop(), false)
	require.NoError(t, b.Start())
	t.Cleanup(b.Stop)

	// Home Assistant restoring the button entity at startup transitions
	// it from nothing to a stale timestamp. That must not stop the alarm.
	mock.SetState("input_button.wake_stop", "2024-05-13T07:01:00+00:00", nil)
	settle()
	assert.Equal(t, alarm.PhaseTriggered, wake.Snapshot().Phase)

	// An actual press afterwards works.
	mock.PressButton("wake_stop")
	waitForPhase(t, wake, alarm.PhaseArmed)
}

func TestBridgeSnoozeMinutesEdit(t *testing.T) {
	f := newBridgeFixture(t, false)

	f.mock.SimulateStateChange("input_number.wake_snooze_minutes", "7")
	require.Eventually(t, func() bool {
		return f.wake.Snapshot().SnoozeMinutes == 7
	}, time.Second, 5*time.Millisecond)

	// A value the alarm refuses is pushed back to the last good one.
	f.mock.SimulateStateChange("input_number.wake_snooze_minutes", "0")
	f.waitForEntity(t, "input_number.wake_snooze_minutes", "7.00")
	assert.Equal(t, 7, f.wake.Snapshot().SnoozeMinutes)
}

func TestBridgeMultipleAlarmsStayIsolated(t *testing.T) {
	f := newBridgeFixture(t, false)
	walk, err := f.reg.Register(alarm.Config{ID: "walk"})
	require.NoError(t, err)
	// walk came after Start, so only its outbound side is served; drive
	// it directly.
	require.NoError(t, walk.SetAlarm("08:00"))
	require.NoError(t, f.wake.SetAlarm("07:00"))

	f.mock.SimulateStateChange("input_text.wake_alarm_time", "06:30")

	require.Eventually(t, func() bool {
		return f.wake.Snapshot().AlarmTime == "06:30:00"
	}, time.Second, 5*time.Millisecond)
	settle()
	assert.Equal(t, "08:00:00", walk.Snapshot().AlarmTime)
	assert.Equal(t, "armed", f.entityState(t, "input_text.walk_status"))
}

func TestBridgeReadOnlyTouchesNothing(t *testing.T) {
	f := newBridgeFixture(t, true)

	require.NoError(t, f.wake.SetAlarm("07:00"))
	f.clk.Advance(time.Hour)

	assert.Empty(t, f.mock.GetServiceCalls())
	assert.Empty(t, f.mock.GetFiredEvents())
}

func TestBridgeStopDetaches(t *testing.T) {
	f := newBridgeFixture(t, false)
	require.NoError(t, f.wake.SetAlarm("07:00"))

	f.bridge.Stop()
	f.mock.ClearServiceCalls()

	f.mock.SimulateStateChange("input_text.wake_alarm_time", "05:00")
	settle()
	assert.Equal(t, "07:00:00", f.wake.Snapshot().AlarmTime, "detached bridge applies nothing")

	require.NoError(t, f.wake.SetAlarm("09:00"))
	assert.Empty(t, f.mock.GetServiceCalls(), "detached bridge writes nothing")
}
