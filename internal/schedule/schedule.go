// Package schedule computes occurrence dates and lapse state for
// weekly-recurring events. All functions are pure: callers pass "now"
// explicitly, so behavior is deterministic under test.
package schedule

import (
	"time"

	"github.com/teambition/rrule-go"

	"github.com/openchapel/events/internal/model"
)

// Instance durations by recurrence weekday. Sunday Service runs longer
// than the midweek study; anything else gets the default.
const (
	sundayDuration  = 3 * time.Hour
	defaultDuration = 2 * time.Hour
)

// weekdays maps time.Weekday numbering (0 = Sunday) onto rrule weekdays.
var weekdays = [7]rrule.Weekday{
	rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA,
}

// civil truncates t to its calendar date, re-expressed as UTC midnight so
// that date arithmetic is location-independent.
func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// weeklyRule builds a weekly recurrence anchored one week before from,
// so that from itself is a candidate occurrence.
func weeklyRule(dayOfWeek int, from time.Time) *rrule.RRule {
	if dayOfWeek < 0 || dayOfWeek > 6 {
		dayOfWeek = 0
	}
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Byweekday: []rrule.Weekday{weekdays[dayOfWeek]},
		Dtstart:   civil(from).AddDate(0, 0, -7),
	})
	if err != nil {
		// Unreachable with a validated weekday; keep the caller total.
		panic(err)
	}
	return r
}

// NextOccurrence returns the smallest date on or after from whose weekday
// equals dayOfWeek.
func NextOccurrence(dayOfWeek int, from time.Time) time.Time {
	return weeklyRule(dayOfWeek, from).After(civil(from), true)
}

// NextOccurrenceAfter returns the smallest date strictly after from whose
// weekday equals dayOfWeek. Used when advancing a lapsed instance: the
// current date must never be returned again.
func NextOccurrenceAfter(dayOfWeek int, from time.Time) time.Time {
	return weeklyRule(dayOfWeek, from).After(civil(from), false)
}

// Duration returns the scheduled length of one instance of the event.
func Duration(ev *model.Event) time.Duration {
	if ev.Recurring() && ev.Recurrence.DayOfWeek == 0 {
		return sundayDuration
	}
	return defaultDuration
}

// HasLapsed reports whether the event's scheduled instance has fully ended
// relative to now. Events with a missing or malformed date/time never lapse;
// the reconciler repairs those through the weekday check instead.
func HasLapsed(ev *model.Event, now time.Time) bool {
	start, ok := ev.StartsAt(now.Location())
	if !ok {
		return false
	}
	return now.After(start.Add(Duration(ev)))
}

// OnCorrectWeekday reports whether the event's date falls on the weekday
// named by its recurrence. False for malformed dates, which forces a repair.
func OnCorrectWeekday(ev *model.Event) bool {
	if !ev.Recurring() {
		return true
	}
	d, err := time.Parse(model.DateLayout, ev.Date)
	if err != nil {
		return false
	}
	return int(d.Weekday()) == ev.Recurrence.DayOfWeek
}

// NextLiveDate returns the first date on or after now's calendar day, on the
// given weekday, whose instance (starting at timeOfDay and running for the
// weekday's duration) has not yet ended. Reconciliation uses this for
// backfill and repair so a second pass over the corrected snapshot is a
// no-op even on the recurrence day itself.
func NextLiveDate(dayOfWeek int, timeOfDay string, now time.Time) string {
	candidate := NextOccurrence(dayOfWeek, now)

	probe := &model.Event{
		Date:        candidate.Format(model.DateLayout),
		Time:        timeOfDay,
		IsPermanent: true,
		Recurrence:  &model.Recurrence{DayOfWeek: dayOfWeek, Frequency: model.FrequencyWeekly},
	}
	if HasLapsed(probe, now) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate.Format(model.DateLayout)
}
