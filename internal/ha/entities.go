package ha

import "strings"

// TriggerEventType is the bus event fired when an alarm starts ringing.
const TriggerEventType = "alarm_clock_triggered"

// alarmEntities lists the helper entities serving one alarm. The first
// three are read-write: Home Assistant edits them to command the alarm,
// the bridge rewrites them to publish canonical state. Status and
// next-fire are daemon-owned; the buttons are input-only.
type alarmEntities struct {
	AlarmTime     string // input_text, HH:MM:SS
	Enabled       string // input_boolean
	SnoozeMinutes string // input_number
	Status        string // input_text, phase name
	NextFire      string // input_text, RFC3339 or empty
	SnoozeButton  string // input_button
	StopButton    string // input_button
}

func entitiesFor(alarmID string) alarmEntities {
	return alarmEntities{
		AlarmTime:     "input_text." + alarmID + "_alarm_time",
		Enabled:       "input_boolean." + alarmID + "_enabled",
		SnoozeMinutes: "input_number." + alarmID + "_snooze_minutes",
		Status:        "input_text." + alarmID + "_status",
		NextFire:      "input_text." + alarmID + "_next_fire",
		SnoozeButton:  "input_button." + alarmID + "_snooze",
		StopButton:    "input_button." + alarmID + "_stop",
	}
}

// nameOf strips the domain prefix from an entity id; the Set* helpers on
// the client take bare names.
func nameOf(entityID string) string {
	if i := strings.IndexByte(entityID, '.'); i >= 0 {
		return entityID[i+1:]
	}
	return entityID
}
