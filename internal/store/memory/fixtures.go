package memory

import (
	"context"
	"fmt"
	"sync"

	"crewcall/internal/models"
	"crewcall/internal/store"
)

// Directory is an in-memory event, shift and settings source.
type Directory struct {
	mu            sync.Mutex
	events        map[int64]*models.EventSnapshot
	shifts        map[int64]*models.ShiftSnapshot
	shiftsByEvent map[int64][]int64
	settings      map[int64]*models.SchedulerSettings
}

func NewDirectory() *Directory {
	return &Directory{
		events:        make(map[int64]*models.EventSnapshot),
		shifts:        make(map[int64]*models.ShiftSnapshot),
		shiftsByEvent: make(map[int64][]int64),
		settings:      make(map[int64]*models.SchedulerSettings),
	}
}

func (d *Directory) PutEvent(ev models.EventSnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events[ev.EventID] = &ev
}

func (d *Directory) PutShift(sh models.ShiftSnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.shifts[sh.ShiftID]; !ok {
		d.shiftsByEvent[sh.EventID] = append(d.shiftsByEvent[sh.EventID], sh.ShiftID)
	}
	d.shifts[sh.ShiftID] = &sh
}

func (d *Directory) RemoveShift(shiftID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sh, ok := d.shifts[shiftID]
	if !ok {
		return
	}
	delete(d.shifts, shiftID)
	ids := d.shiftsByEvent[sh.EventID]
	for i, id := range ids {
		if id == shiftID {
			d.shiftsByEvent[sh.EventID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

func (d *Directory) PutSettings(st models.SchedulerSettings) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settings[st.OrgID] = &st
}

func (d *Directory) EventByID(_ context.Context, orgID, eventID int64) (*models.EventSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ev, ok := d.events[eventID]
	if !ok || ev.OrgID != orgID {
		return nil, store.ErrNotFound
	}
	c := *ev
	return &c, nil
}

func (d *Directory) ShiftByID(_ context.Context, orgID, shiftID int64) (*models.ShiftSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sh, ok := d.shifts[shiftID]
	if !ok || sh.OrgID != orgID {
		return nil, store.ErrNotFound
	}
	c := *sh
	return &c, nil
}

func (d *Directory) ShiftsForEvent(_ context.Context, orgID, eventID int64) ([]models.ShiftSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []models.ShiftSnapshot
	for _, id := range d.shiftsByEvent[eventID] {
		sh := d.shifts[id]
		if sh.OrgID == orgID {
			out = append(out, *sh)
		}
	}
	return out, nil
}

func (d *Directory) SettingsFor(_ context.Context, orgID int64) (*models.SchedulerSettings, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.settings[orgID]; ok {
		c := *st
		return &c, nil
	}
	return models.DefaultSettings(orgID), nil
}

// DedupeLog records sent messages and answers duplicate checks.
type DedupeLog struct {
	mu   sync.Mutex
	keys map[string]bool
}

func NewDedupeLog() *DedupeLog {
	return &DedupeLog{keys: make(map[string]bool)}
}

func (l *DedupeLog) Record(orgID int64, kind models.MessageKind, eventID, shiftID *int64, phone string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys[dedupeKey(orgID, kind, eventID, shiftID, phone)] = true
}

func (l *DedupeLog) WasAlreadySent(_ context.Context, orgID int64, kind models.MessageKind, eventID, shiftID *int64, recipientPhone string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.keys[dedupeKey(orgID, kind, eventID, shiftID, recipientPhone)], nil
}

func dedupeKey(orgID int64, kind models.MessageKind, eventID, shiftID *int64, phone string) string {
	var ev, sh int64
	if eventID != nil {
		ev = *eventID
	}
	if shiftID != nil {
		sh = *shiftID
	}
	return fmt.Sprintf("%d|%s|%d|%d|%s", orgID, kind, ev, sh, phone)
}

// SentMessage is one delivery recorded by SenderStub.
type SentMessage struct {
	Phone string
	Kind  models.MessageKind
	Vars  map[string]string
}

// SenderStub records deliveries and can be told to fail. FailFirst makes the
// first N sends return Err before succeeding, which exercises retry paths.
type SenderStub struct {
	mu        sync.Mutex
	Err       error
	FailFirst int
	attempts  int
	sent      []SentMessage
}

func (s *SenderStub) Send(_ context.Context, phone string, kind models.MessageKind, vars map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.Err != nil && (s.FailFirst == 0 || s.attempts <= s.FailFirst) {
		return "", s.Err
	}
	s.sent = append(s.sent, SentMessage{Phone: phone, Kind: kind, Vars: vars})
	return fmt.Sprintf("msg-%d", len(s.sent)), nil
}

func (s *SenderStub) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *SenderStub) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}
