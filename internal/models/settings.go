package models

import "crewcall/internal/schedule"

// KindSettings is the per-message-kind schedule configuration.
type KindSettings struct {
	Enabled    bool
	DaysBefore int
	SendTime   schedule.TimeOfDay
}

// SchedulerSettings is the per-organization scheduler configuration. It is
// owned by an external configuration surface; the engine only reads it.
type SchedulerSettings struct {
	OrgID         int64
	EnabledGlobal bool
	Init          KindSettings
	Tech          KindSettings
	Shift         KindSettings
}

// ForKind returns the settings block for the given message kind.
func (s *SchedulerSettings) ForKind(kind MessageKind) KindSettings {
	switch kind {
	case KindInit:
		return s.Init
	case KindTechReminder:
		return s.Tech
	case KindShiftReminder:
		return s.Shift
	default:
		return KindSettings{}
	}
}

// KindEnabled reports whether the kind may be sent at all for this org.
func (s *SchedulerSettings) KindEnabled(kind MessageKind) bool {
	return s.EnabledGlobal && s.ForKind(kind).Enabled
}

// DefaultSettings are the out-of-the-box schedule rules: first contact four
// weeks ahead at 10:00, tech reminder two days ahead at noon, shift reminder
// the day before at noon.
func DefaultSettings(orgID int64) *SchedulerSettings {
	return &SchedulerSettings{
		OrgID:         orgID,
		EnabledGlobal: true,
		Init:          KindSettings{Enabled: true, DaysBefore: 28, SendTime: schedule.MustTimeOfDay("10:00")},
		Tech:          KindSettings{Enabled: true, DaysBefore: 2, SendTime: schedule.MustTimeOfDay("12:00")},
		Shift:         KindSettings{Enabled: true, DaysBefore: 1, SendTime: schedule.MustTimeOfDay("12:00")},
	}
}
