package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var il = mustLoadLocation("Asia/Jerusalem")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func localDate(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, il)
}

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("10:30")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 10, Minute: 30}, tod)

	tod, err = ParseTimeOfDay("21:00:00")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 21, Minute: 0}, tod)

	_, err = ParseTimeOfDay("25:99")
	assert.Error(t, err)

	_, err = ParseTimeOfDay("")
	assert.Error(t, err)
}

func TestComputeSendAt_RegularWeekday(t *testing.T) {
	// Anchor Wednesday 2025-07-16, 2 days before -> Monday 2025-07-14 12:00.
	now := time.Date(2025, 7, 1, 8, 0, 0, 0, il)
	got := ComputeSendAt(localDate(2025, 7, 16), MustTimeOfDay("12:00"), 2, now, false, il)

	local := got.In(il)
	assert.Equal(t, time.Monday, local.Weekday())
	assert.Equal(t, 14, local.Day())
	assert.Equal(t, 12, local.Hour())
	assert.Equal(t, 0, local.Minute())
}

func TestComputeSendAt_WeekendRuleFridayToSunday(t *testing.T) {
	// The worked example: anchor 2025-07-18, 28 days before at 10:00 lands on
	// Friday 2025-06-20; with the weekend rule it must move to Sunday 2025-06-22.
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, il)
	got := ComputeSendAt(localDate(2025, 7, 18), MustTimeOfDay("10:00"), 28, now, true, il)

	local := got.In(il)
	assert.Equal(t, time.Sunday, local.Weekday())
	assert.Equal(t, time.June, local.Month())
	assert.Equal(t, 22, local.Day())
	assert.Equal(t, 10, local.Hour())
	assert.Equal(t, 0, local.Minute())
}

func TestComputeSendAt_WeekendRuleSaturdayToSunday(t *testing.T) {
	// Anchor Sunday 2025-06-22, 1 day before -> Saturday 2025-06-21.
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, il)
	got := ComputeSendAt(localDate(2025, 6, 22), MustTimeOfDay("10:00"), 1, now, true, il)

	local := got.In(il)
	assert.Equal(t, time.Sunday, local.Weekday())
	assert.Equal(t, 22, local.Day())
	assert.Equal(t, 10, local.Hour())
}

func TestComputeSendAt_NoWeekendRuleStaysOnFriday(t *testing.T) {
	// Same Friday candidate, rule off: reminders may go out on Friday.
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, il)
	got := ComputeSendAt(localDate(2025, 7, 18), MustTimeOfDay("10:00"), 28, now, false, il)

	local := got.In(il)
	assert.Equal(t, time.Friday, local.Weekday())
	assert.Equal(t, 20, local.Day())
}

func TestComputeSendAt_PastCandidateRollsToTomorrow(t *testing.T) {
	// Anchor long past: candidate < now, so we get local tomorrow at the fixed time.
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, il)
	got := ComputeSendAt(localDate(2025, 1, 5), MustTimeOfDay("10:00"), 28, now, false, il)

	local := got.In(il)
	assert.Equal(t, 11, local.Day())
	assert.Equal(t, time.June, local.Month())
	assert.Equal(t, 10, local.Hour())
	assert.True(t, got.After(now))
}

func TestComputeSendAt_PastCandidateThenWeekendRule(t *testing.T) {
	// now is a Thursday; rolling forward lands tomorrow on Friday, and the
	// weekend rule must then push the result to Sunday.
	now := time.Date(2025, 6, 19, 15, 0, 0, 0, il) // Thursday
	require.Equal(t, time.Thursday, now.Weekday())

	got := ComputeSendAt(localDate(2025, 1, 5), MustTimeOfDay("10:00"), 28, now, true, il)

	local := got.In(il)
	assert.Equal(t, time.Sunday, local.Weekday())
	assert.Equal(t, 22, local.Day())
}

func TestComputeSendAt_ZeroDaysBefore(t *testing.T) {
	now := time.Date(2025, 7, 1, 8, 0, 0, 0, il)
	got := ComputeSendAt(localDate(2025, 7, 16), MustTimeOfDay("09:30"), 0, now, false, il)

	local := got.In(il)
	assert.Equal(t, 16, local.Day())
	assert.Equal(t, 9, local.Hour())
	assert.Equal(t, 30, local.Minute())
}

func TestComputeSendAt_DSTSummerAndWinter(t *testing.T) {
	now := time.Date(2025, 1, 1, 8, 0, 0, 0, il)

	// July: IDT is UTC+3, so 10:00 local == 07:00 UTC.
	summer := ComputeSendAt(localDate(2025, 7, 16), MustTimeOfDay("10:00"), 2, now, false, il)
	assert.Equal(t, 7, summer.UTC().Hour())

	// January: IST is UTC+2, so 10:00 local == 08:00 UTC.
	winter := ComputeSendAt(localDate(2025, 1, 15), MustTimeOfDay("10:00"), 2, now, false, il)
	assert.Equal(t, 8, winter.UTC().Hour())
}

func TestComputeSendAt_ReturnsUTC(t *testing.T) {
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, il)
	got := ComputeSendAt(localDate(2025, 7, 16), MustTimeOfDay("10:00"), 2, now, false, il)
	assert.Equal(t, time.UTC, got.Location())
}

func TestNextSundayAt(t *testing.T) {
	friday := time.Date(2025, 6, 20, 11, 0, 0, 0, il)
	require.Equal(t, time.Friday, friday.Weekday())

	got := NextSundayAt(friday, MustTimeOfDay("10:00"), il)
	local := got.In(il)
	assert.Equal(t, time.Sunday, local.Weekday())
	assert.Equal(t, 22, local.Day())
	assert.Equal(t, 10, local.Hour())

	saturday := friday.AddDate(0, 0, 1)
	got = NextSundayAt(saturday, MustTimeOfDay("10:00"), il)
	assert.Equal(t, time.Sunday, got.In(il).Weekday())
	assert.Equal(t, 22, got.In(il).Day())

	monday := time.Date(2025, 6, 16, 11, 0, 0, 0, il)
	assert.True(t, NextSundayAt(monday, MustTimeOfDay("10:00"), il).IsZero())
}

func TestIsWeekend(t *testing.T) {
	assert.True(t, IsWeekend(time.Date(2025, 6, 20, 11, 0, 0, 0, il), il))  // Friday
	assert.True(t, IsWeekend(time.Date(2025, 6, 21, 11, 0, 0, 0, il), il))  // Saturday
	assert.False(t, IsWeekend(time.Date(2025, 6, 22, 11, 0, 0, 0, il), il)) // Sunday
	assert.False(t, IsWeekend(time.Date(2025, 6, 18, 11, 0, 0, 0, il), il)) // Wednesday
}
