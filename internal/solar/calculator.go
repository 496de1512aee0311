// Package solar resolves sunrise and sunset instants for alarms that track
// the sun instead of a fixed time of day.
package solar

import (
	"time"

	"github.com/nathan-osman/go-sunrise"
	"go.uber.org/zap"

	"github.com/DGTLMagician/hass-alarmclock/internal/alarm"
)

// maxSearchDays bounds the forward scan for the next occurrence. Outside
// polar latitudes the first or second day always has one.
const maxSearchDays = 3

// Calculator computes upcoming sun events for a fixed location. It
// implements alarm.SolarSchedule.
type Calculator struct {
	latitude  float64
	longitude float64
	logger    *zap.Logger
}

func NewCalculator(latitude, longitude float64, logger *zap.Logger) *Calculator {
	return &Calculator{
		latitude:  latitude,
		longitude: longitude,
		logger:    logger,
	}
}

// Next returns the first occurrence of event, shifted by offset, strictly
// after the given instant. The scan starts one day back so a large positive
// offset can carry yesterday's event past the reference instant. Near the
// poles whole days lack the event; the scan gives up after maxSearchDays
// instead of walking toward the solstice.
func (c *Calculator) Next(event alarm.SolarEvent, offset time.Duration, after time.Time) (time.Time, error) {
	for days := -1; days <= maxSearchDays; days++ {
		day := after.AddDate(0, 0, days)
		rise, set := sunrise.SunriseSunset(
			c.latitude, c.longitude,
			day.Year(), day.Month(), day.Day(),
		)

		var at time.Time
		switch event {
		case alarm.SolarSunrise:
			at = rise
		case alarm.SolarSunset:
			at = set
		default:
			return time.Time{}, alarm.Errorf(alarm.ErrInvalidState, "unknown solar event %q", event)
		}
		if at.IsZero() {
			// Polar day or polar night, no event on this date.
			continue
		}

		at = at.In(after.Location()).Add(offset)
		if at.After(after) {
			c.logger.Debug("Resolved solar event",
				zap.String("event", string(event)),
				zap.Duration("offset", offset),
				zap.Time("at", at))
			return at, nil
		}
	}
	return time.Time{}, alarm.Errorf(alarm.ErrInvalidState,
		"no %s within %d days of %s at %.5f,%.5f",
		event, maxSearchDays, after.Format(time.RFC3339), c.latitude, c.longitude)
}
