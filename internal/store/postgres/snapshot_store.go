package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"crewcall/internal/models"
	"crewcall/internal/schedule"
	"crewcall/internal/store"
)

// SnapshotStore serves read-only domain snapshots (events, shifts, settings)
// and the dedupe check from the shared database. The engine never writes
// through it.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) EventByID(ctx context.Context, orgID, eventID int64) (*models.EventSnapshot, error) {
	query := `
		SELECT e.event_id, e.org_id, e.name, e.event_date,
		       e.load_in_time IS NOT NULL,
		       tc.contact_id, tc.name, tc.phone,
		       pc.contact_id, pc.name, pc.phone
		FROM events e
		LEFT JOIN contacts tc ON tc.contact_id = e.technical_contact_id AND tc.org_id = e.org_id
		LEFT JOIN contacts pc ON pc.contact_id = e.producer_contact_id AND pc.org_id = e.org_id
		WHERE e.org_id = $1 AND e.event_id = $2
	`

	var (
		ev                             models.EventSnapshot
		tcID, pcID                     sql.NullInt64
		tcName, tcPhone, pcName, pcPhone sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, orgID, eventID).Scan(
		&ev.EventID, &ev.OrgID, &ev.Name, &ev.AnchorDate, &ev.LoadInPresent,
		&tcID, &tcName, &tcPhone,
		&pcID, &pcName, &pcPhone,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load event %d: %w", eventID, err)
	}

	ev.TechnicalContact = contactFrom(tcID, tcName, tcPhone)
	ev.ProducerContact = contactFrom(pcID, pcName, pcPhone)
	return &ev, nil
}

func (s *SnapshotStore) ShiftByID(ctx context.Context, orgID, shiftID int64) (*models.ShiftSnapshot, error) {
	query := shiftSelect + ` WHERE s.org_id = $1 AND s.shift_id = $2`

	sh, err := scanShift(s.db.QueryRowContext(ctx, query, orgID, shiftID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load shift %d: %w", shiftID, err)
	}
	return sh, nil
}

func (s *SnapshotStore) ShiftsForEvent(ctx context.Context, orgID, eventID int64) ([]models.ShiftSnapshot, error) {
	query := shiftSelect + ` WHERE s.org_id = $1 AND s.event_id = $2 ORDER BY s.call_time ASC`

	rows, err := s.db.QueryContext(ctx, query, orgID, eventID)
	if err != nil {
		return nil, fmt.Errorf("load shifts of event %d: %w", eventID, err)
	}
	defer rows.Close()

	var shifts []models.ShiftSnapshot
	for rows.Next() {
		sh, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		shifts = append(shifts, *sh)
	}
	return shifts, rows.Err()
}

// SettingsFor returns the org's scheduler settings, falling back to the
// defaults when the org has no settings row yet.
func (s *SnapshotStore) SettingsFor(ctx context.Context, orgID int64) (*models.SchedulerSettings, error) {
	query := `
		SELECT enabled_global, enabled_init, enabled_tech, enabled_shift,
		       init_days_before, init_send_time,
		       tech_days_before, tech_send_time,
		       shift_days_before, shift_send_time
		FROM scheduler_settings
		WHERE org_id = $1
	`

	settings := models.DefaultSettings(orgID)
	var initTime, techTime, shiftTime string
	err := s.db.QueryRowContext(ctx, query, orgID).Scan(
		&settings.EnabledGlobal, &settings.Init.Enabled, &settings.Tech.Enabled, &settings.Shift.Enabled,
		&settings.Init.DaysBefore, &initTime,
		&settings.Tech.DaysBefore, &techTime,
		&settings.Shift.DaysBefore, &shiftTime,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return settings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load scheduler settings for org %d: %w", orgID, err)
	}

	if settings.Init.SendTime, err = schedule.ParseTimeOfDay(initTime); err != nil {
		return nil, fmt.Errorf("org %d init send time: %w", orgID, err)
	}
	if settings.Tech.SendTime, err = schedule.ParseTimeOfDay(techTime); err != nil {
		return nil, fmt.Errorf("org %d tech send time: %w", orgID, err)
	}
	if settings.Shift.SendTime, err = schedule.ParseTimeOfDay(shiftTime); err != nil {
		return nil, fmt.Errorf("org %d shift send time: %w", orgID, err)
	}
	return settings, nil
}

// WasAlreadySent checks the outbound message log for an equivalent message to
// the same recipient, e.g. one sent manually from a conversation flow.
func (s *SnapshotStore) WasAlreadySent(ctx context.Context, orgID int64, kind models.MessageKind, eventID, shiftID *int64, recipientPhone string) (bool, error) {
	query := `
		SELECT COUNT(*)
		FROM messages
		WHERE org_id = $1
		  AND message_kind = $2
		  AND ($3::bigint IS NULL OR event_id = $3)
		  AND ($4::bigint IS NULL OR shift_id = $4)
		  AND to_phone = $5
	`

	var count int
	err := s.db.QueryRowContext(ctx, query, orgID, kind.String(), eventID, shiftID, recipientPhone).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("dedupe check for org %d: %w", orgID, err)
	}
	return count > 0, nil
}

const shiftSelect = `
	SELECT s.shift_id, s.org_id, s.event_id, s.call_time, s.shift_role,
	       e.employee_id, e.name, e.phone
	FROM employee_shifts s
	LEFT JOIN employees e ON e.employee_id = s.employee_id AND e.org_id = s.org_id`

func scanShift(row rowScanner) (*models.ShiftSnapshot, error) {
	var (
		sh                 models.ShiftSnapshot
		role               sql.NullString
		empID              sql.NullInt64
		empName, empPhone  sql.NullString
	)
	if err := row.Scan(
		&sh.ShiftID, &sh.OrgID, &sh.EventID, &sh.CallTime, &role,
		&empID, &empName, &empPhone,
	); err != nil {
		return nil, err
	}
	sh.Role = role.String
	sh.Employee = contactFrom(empID, empName, empPhone)
	return &sh, nil
}

func contactFrom(id sql.NullInt64, name, phone sql.NullString) *models.Contact {
	if !id.Valid {
		return nil
	}
	return &models.Contact{ID: id.Int64, Name: name.String, Phone: phone.String}
}
