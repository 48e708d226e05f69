// Package schedule computes send timestamps for scheduled messages.
//
// All arithmetic is done on the organization's local calendar and converted
// to UTC at the end. The functions are pure: "now" is always a parameter.
package schedule

import (
	"time"
)

// ComputeSendAt calculates when a message should go out.
//
// Algorithm:
//  1. candidate = (anchor date - daysBefore days) at fixedTime, in loc.
//  2. If candidate is already in the past, candidate becomes local tomorrow
//     (relative to now) at fixedTime.
//  3. If applyWeekendRule, a candidate landing on local Friday moves +2 days
//     and Saturday moves +1 day, so both land on Sunday at fixedTime.
//
// anchor carries only its calendar date; its clock and zone are ignored
// beyond reading the date in loc. The result is UTC.
func ComputeSendAt(anchor time.Time, fixedTime TimeOfDay, daysBefore int, now time.Time, applyWeekendRule bool, loc *time.Location) time.Time {
	y, m, d := anchor.In(loc).Date()
	candidateDay := time.Date(y, m, d, 0, 0, 0, 0, loc).AddDate(0, 0, -daysBefore)
	candidate := fixedTime.OnDate(candidateDay, loc)

	if candidate.Before(now) {
		tomorrow := now.In(loc).AddDate(0, 0, 1)
		candidate = fixedTime.OnDate(tomorrow, loc)
	}

	if applyWeekendRule {
		candidate = rollOffWeekend(candidate, fixedTime, loc)
	}

	return candidate
}

// NextSundayAt is the runtime postponement used when a weekend-rule message
// comes due while the org-local clock is on Friday or Saturday: the job moves
// to the coming Sunday at fixedTime. Returns the zero time when now is not on
// a weekend day.
func NextSundayAt(now time.Time, fixedTime TimeOfDay, loc *time.Location) time.Time {
	switch now.In(loc).Weekday() {
	case time.Friday:
		return fixedTime.OnDate(now.In(loc).AddDate(0, 0, 2), loc)
	case time.Saturday:
		return fixedTime.OnDate(now.In(loc).AddDate(0, 0, 1), loc)
	default:
		return time.Time{}
	}
}

// IsWeekend reports whether t falls on Friday or Saturday in loc.
// Friday/Saturday is the non-working weekend in the deployment region.
func IsWeekend(t time.Time, loc *time.Location) bool {
	wd := t.In(loc).Weekday()
	return wd == time.Friday || wd == time.Saturday
}

func rollOffWeekend(candidate time.Time, fixedTime TimeOfDay, loc *time.Location) time.Time {
	switch candidate.In(loc).Weekday() {
	case time.Friday:
		return fixedTime.OnDate(candidate.In(loc).AddDate(0, 0, 2), loc)
	case time.Saturday:
		return fixedTime.OnDate(candidate.In(loc).AddDate(0, 0, 1), loc)
	default:
		return candidate
	}
}
