// Package schedule holds the recurrence date math and the
// unified-schedule override manager.
package schedule

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/rank-tracker/internal/model"
)

// NextRun computes the next run timestamp strictly after from for the
// given recurrence. dayOfWeek applies to weekly schedules (0=Sunday),
// dayOfMonth to monthly ones. A dayOfMonth that does not exist in the
// target month (29/30/31) clamps to the month's last day. The result is
// always in UTC and never at or before from.
func NextRun(freq model.Frequency, dayOfWeek, dayOfMonth, hourUTC int, from time.Time) (time.Time, error) {
	if hourUTC < 0 || hourUTC > 23 {
		return time.Time{}, eris.Errorf("schedule: hour %d out of range [0, 23]", hourUTC)
	}
	from = from.UTC()

	switch freq {
	case model.FreqDaily:
		return nextDaily(hourUTC, from), nil

	case model.FreqWeekly:
		if dayOfWeek < 0 || dayOfWeek > 6 {
			return time.Time{}, eris.Errorf("schedule: day of week %d out of range [0, 6]", dayOfWeek)
		}
		return nextWeekly(dayOfWeek, hourUTC, from), nil

	case model.FreqMonthly:
		if dayOfMonth < 1 || dayOfMonth > 31 {
			return time.Time{}, eris.Errorf("schedule: day of month %d out of range [1, 31]", dayOfMonth)
		}
		return nextMonthly(dayOfMonth, hourUTC, from), nil

	default:
		return time.Time{}, eris.Errorf("schedule: unknown frequency %q", freq)
	}
}

// OccursOn reports whether the recurrence has an occurrence on the given
// date. The hour is not considered: a run fired later the same day still
// covers that day's occurrence. Monthly days past the month's end clamp
// to the last day, matching NextRun.
func OccursOn(freq model.Frequency, dayOfWeek, dayOfMonth int, on time.Time) bool {
	on = on.UTC()
	switch freq {
	case model.FreqDaily:
		return true
	case model.FreqWeekly:
		return int(on.Weekday()) == dayOfWeek
	case model.FreqMonthly:
		day := dayOfMonth
		if last := lastDayOfMonth(on.Year(), on.Month()); day > last {
			day = last
		}
		return on.Day() == day
	default:
		return false
	}
}

func nextDaily(hour int, from time.Time) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func nextWeekly(weekday, hour int, from time.Time) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), hour, 0, 0, 0, time.UTC)
	for next.Weekday() != time.Weekday(weekday) || !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func nextMonthly(day, hour int, from time.Time) time.Time {
	next := monthlyOccurrence(from.Year(), from.Month(), day, hour)
	if !next.After(from) {
		y, m := from.Year(), from.Month()+1
		next = monthlyOccurrence(y, m, day, hour)
	}
	return next
}

// monthlyOccurrence places day/hour within the given month, clamping the
// day to the month's last valid day.
func monthlyOccurrence(year int, month time.Month, day, hour int) time.Time {
	last := lastDayOfMonth(year, month)
	if day > last {
		day = last
	}
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
}

func lastDayOfMonth(year int, month time.Month) int {
	// Day 0 of the next month normalizes to this month's last day.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
