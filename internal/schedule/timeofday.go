package schedule

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time with minute precision, e.g. the "10:00" an
// org configures for its reminders. It carries no date and no zone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS" (seconds are discarded).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("invalid time of day %q, expected HH:MM or HH:MM:SS", s)
}

// MustTimeOfDay is for defaults known to be valid at compile time.
func MustTimeOfDay(s string) TimeOfDay {
	tod, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return tod
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On combines the time of day with the given calendar date in loc and
// returns the resulting instant in UTC.
func (t TimeOfDay) On(year int, month time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, month, day, t.Hour, t.Minute, 0, 0, loc).UTC()
}

// OnDate is On with the date taken from another time value's calendar day in loc.
func (t TimeOfDay) OnDate(d time.Time, loc *time.Location) time.Time {
	y, m, day := d.In(loc).Date()
	return t.On(y, m, day, loc)
}
