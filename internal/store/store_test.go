package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DGTLMagician/hass-alarmclock/internal/alarm"
	"github.com/DGTLMagician/hass-alarmclock/internal/clock"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewFileStore(path)

	in := map[string]alarm.StoredState{
		"wake": {AlarmTime: "07:00:00", Enabled: true, SnoozeMinutes: 5},
		"walk": {Enabled: false, SnoozeMinutes: 9},
	}
	require.NoError(t, s.Save(in))

	out, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestFileStoreMissingFile(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))

	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	_, err := NewFileStore(path).Load()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func newRecorderFixture(t *testing.T) (*Recorder, *alarm.Registry, *clock.MockClock, string) {
	t.Helper()
	mc := clock.NewMockClock(time.Date(2024, 5, 14, 6, 0, 0, 0, time.UTC))
	reg := alarm.NewRegistry(mc, nil, zap.NewNop())
	t.Cleanup(reg.Close)

	path := filepath.Join(t.TempDir(), "state.json")
	rec := NewRecorder(NewFileStore(path), reg, zap.NewNop())
	return rec, reg, mc, path
}

func TestRecorderPersistsStateChanges(t *testing.T) {
	rec, reg, _, path := newRecorderFixture(t)

	a, err := reg.Register(alarm.Config{ID: "wake"})
	require.NoError(t, err)

	rec.Start()
	defer rec.Stop()

	require.NoError(t, a.SetAlarm("07:00"))

	states, err := NewFileStore(path).Load()
	require.NoError(t, err)
	require.Contains(t, states, "wake")
	assert.Equal(t, "07:00:00", states["wake"].AlarmTime)
	assert.True(t, states["wake"].Enabled)

	require.NoError(t, a.Disable())

	states, err = NewFileStore(path).Load()
	require.NoError(t, err)
	assert.False(t, states["wake"].Enabled)
	assert.Equal(t, "07:00:00", states["wake"].AlarmTime, "time survives disable")
}

func TestRecorderStopsPersisting(t *testing.T) {
	rec, reg, _, path := newRecorderFixture(t)

	a, err := reg.Register(alarm.Config{ID: "wake"})
	require.NoError(t, err)

	rec.Start()
	require.NoError(t, a.SetAlarm("07:00"))
	rec.Stop()

	require.NoError(t, a.Disable())

	states, err := NewFileStore(path).Load()
	require.NoError(t, err)
	assert.True(t, states["wake"].Enabled, "write after Stop must not happen")
}

func TestRecorderRestoreReArmsAlarms(t *testing.T) {
	rec, reg, _, path := newRecorderFixture(t)

	_, err := reg.Register(alarm.Config{ID: "wake"})
	require.NoError(t, err)
	_, err = reg.Register(alarm.Config{ID: "nap"})
	require.NoError(t, err)

	require.NoError(t, NewFileStore(path).Save(map[string]alarm.StoredState{
		"wake": {AlarmTime: "07:00:00", Enabled: true, SnoozeMinutes: 5},
		"nap":  {AlarmTime: "14:00:00", Enabled: false},
		"gone": {AlarmTime: "09:00:00", Enabled: true},
	}))

	require.NoError(t, rec.Restore())

	wake, err := reg.Get("wake")
	require.NoError(t, err)
	snap := wake.Snapshot()
	assert.Equal(t, alarm.PhaseArmed, snap.Phase)
	assert.Equal(t, "07:00:00", snap.AlarmTime)
	assert.Equal(t, 5, snap.SnoozeMinutes)
	assert.Equal(t, time.Date(2024, 5, 14, 7, 0, 0, 0, time.UTC), snap.NextFireAt)

	nap, err := reg.Get("nap")
	require.NoError(t, err)
	assert.Equal(t, alarm.PhaseIdle, nap.Snapshot().Phase)
	assert.Equal(t, "14:00:00", nap.Snapshot().AlarmTime)
}

func TestRecorderRestoreMissingFileIsFirstRun(t *testing.T) {
	rec, reg, _, _ := newRecorderFixture(t)

	a, err := reg.Register(alarm.Config{ID: "wake"})
	require.NoError(t, err)

	require.NoError(t, rec.Restore())
	assert.Equal(t, alarm.PhaseIdle, a.Snapshot().Phase)
}

func TestRecorderRestoreSkipsBadEntries(t *testing.T) {
	rec, reg, _, path := newRecorderFixture(t)

	_, err := reg.Register(alarm.Config{ID: "bad"})
	require.NoError(t, err)
	_, err = reg.Register(alarm.Config{ID: "good"})
	require.NoError(t, err)

	require.NoError(t, NewFileStore(path).Save(map[string]alarm.StoredState{
		"bad":  {AlarmTime: "99:00:00", Enabled: true},
		"good": {AlarmTime: "07:00:00", Enabled: true},
	}))

	require.NoError(t, rec.Restore())

	good, err := reg.Get("good")
	require.NoError(t, err)
	assert.Equal(t, alarm.PhaseArmed, good.Snapshot().Phase)

	bad, err := reg.Get("bad")
	require.NoError(t, err)
	assert.Equal(t, alarm.PhaseIdle, bad.Snapshot().Phase)
}

func TestRecorderRestartRoundTrip(t *testing.T) {
	// First life: set an alarm and let the recorder persist it.
	mc := clock.NewMockClock(time.Date(2024, 5, 14, 6, 0, 0, 0, time.UTC))
	reg := alarm.NewRegistry(mc, nil, zap.NewNop())
	path := filepath.Join(t.TempDir(), "state.json")
	fs := NewFileStore(path)

	rec := NewRecorder(fs, reg, zap.NewNop())
	rec.Start()

	a, err := reg.Register(alarm.Config{ID: "wake"})
	require.NoError(t, err)
	require.NoError(t, a.SetAlarm("07:00"))
	require.NoError(t, a.SetSnoozeMinutes(5))

	rec.Stop()
	reg.Close()

	// Second life: a fresh registry against the same file.
	reg2 := alarm.NewRegistry(mc, nil, zap.NewNop())
	t.Cleanup(reg2.Close)
	_, err = reg2.Register(alarm.Config{ID: "wake"})
	require.NoError(t, err)

	rec2 := NewRecorder(fs, reg2, zap.NewNop())
	require.NoError(t, rec2.Restore())

	wake, err := reg2.Get("wake")
	require.NoError(t, err)
	snap := wake.Snapshot()
	assert.Equal(t, alarm.PhaseArmed, snap.Phase)
	assert.Equal(t, "07:00:00", snap.AlarmTime)
	assert.Equal(t, 5, snap.SnoozeMinutes)

	// The revived alarm still fires.
	mc.Advance(time.Hour)
	assert.Equal(t, alarm.PhaseTriggered, wake.Snapshot().Phase)
}
