package scheduling

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Store. Transactions run one at a time against a
// copy of the state, which replaces the committed state only when fn
// returns nil. Inserts enforce the same uniqueness and exclusion rules as
// the Postgres schema.
type memStore struct {
	mu    sync.Mutex
	state *memState

	// failLockSlot makes LockSlot return the error for the given slot.
	failLockSlot map[uuid.UUID]error
	// skipOverlapQuery hides rows from FindOverlappingSlots so that the
	// insert-time exclusion rule is the only guard.
	skipOverlapQuery bool
	// afterListAvailable runs once ListAvailableSlots has read its rows.
	afterListAvailable func()
}

type memState struct {
	patients   map[uuid.UUID]Patient
	clinicians map[uuid.UUID]Clinician
	slots      map[uuid.UUID]Slot
	bookings   map[uuid.UUID]Booking
	events     []EventLog
}

func newMemStore() *memStore {
	return &memStore{
		state: &memState{
			patients:   map[uuid.UUID]Patient{},
			clinicians: map[uuid.UUID]Clinician{},
			slots:      map[uuid.UUID]Slot{},
			bookings:   map[uuid.UUID]Booking{},
		},
		failLockSlot: map[uuid.UUID]error{},
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		patients:   make(map[uuid.UUID]Patient, len(s.patients)),
		clinicians: make(map[uuid.UUID]Clinician, len(s.clinicians)),
		slots:      make(map[uuid.UUID]Slot, len(s.slots)),
		bookings:   make(map[uuid.UUID]Booking, len(s.bookings)),
		events:     append([]EventLog(nil), s.events...),
	}
	for k, v := range s.patients {
		c.patients[k] = v
	}
	for k, v := range s.clinicians {
		c.clinicians[k] = v
	}
	for k, v := range s.slots {
		c.slots[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	return c
}

func (m *memStore) addPatient(name string) Patient {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := Patient{ID: uuid.New(), Name: name}
	m.state.patients[p.ID] = p
	return p
}

func (m *memStore) addClinician(name string) Clinician {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := Clinician{ID: uuid.New(), Name: name}
	m.state.clinicians[c.ID] = c
	return c
}

func (m *memStore) slot(id uuid.UUID) Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.slots[id]
}

func (m *memStore) booking(id uuid.UUID) Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.bookings[id]
}

func (m *memStore) counts() (slots, bookings, events int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.slots), len(m.state.bookings), len(m.state.events)
}

func (m *memStore) eventsOfType(eventType string) []EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EventLog
	for _, ev := range m.state.events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (m *memStore) liveBookingsForSlot(slotID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.state.bookings {
		if b.SlotID == slotID && b.Status.IsLive() {
			n++
		}
	}
	return n
}

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{store: m, st: m.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = tx.st
	return nil
}

func (m *memStore) detail(st *memState, b Booking) BookingDetail {
	slot := st.slots[b.SlotID]
	patient := st.patients[b.PatientID]
	clinician := st.clinicians[slot.ClinicianID]
	return BookingDetail{Booking: b, Slot: &slot, Patient: &patient, Clinician: &clinician}
}

func (m *memStore) GetBookingDetail(ctx context.Context, id uuid.UUID) (*BookingDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.state.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	d := m.detail(m.state, b)
	return &d, nil
}

func (m *memStore) ListBookingsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]BookingDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []BookingDetail{}
	for _, b := range m.state.bookings {
		if b.PatientID == patientID {
			out = append(out, m.detail(m.state, b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot.Start.After(out[j].Slot.Start) })
	if offset >= len(out) {
		return []BookingDetail{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListAvailableSlots(ctx context.Context, clinicianID uuid.UUID) ([]Slot, error) {
	m.mu.Lock()
	out := []Slot{}
	for _, s := range m.state.slots {
		if s.ClinicianID == clinicianID && s.Status == SlotAvailable {
			out = append(out, s)
		}
	}
	hook := m.afterListAvailable
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	if hook != nil {
		hook()
	}
	return out, nil
}

func (m *memStore) ListWalkIns(ctx context.Context, from, to time.Time) ([]BookingDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []BookingDetail{}
	for _, b := range m.state.bookings {
		if !b.IsWalkIn || b.Status == BookingCancelled {
			continue
		}
		if s := m.state.slots[b.SlotID]; s.Overlaps(from, to) {
			out = append(out, m.detail(m.state, b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot.Start.Before(out[j].Slot.Start) })
	return out, nil
}

type memTx struct {
	store *memStore
	st    *memState
}

func (t *memTx) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := t.st.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (t *memTx) LockPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return t.GetPatient(ctx, id)
}

func (t *memTx) GetClinician(ctx context.Context, id uuid.UUID) (*Clinician, error) {
	c, ok := t.st.clinicians[id]
	if !ok {
		return nil, ErrClinicianNotFound
	}
	return &c, nil
}

func (t *memTx) LockSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	if err := t.store.failLockSlot[id]; err != nil {
		return nil, err
	}
	s, ok := t.st.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (t *memTx) LockSlots(ctx context.Context, ids ...uuid.UUID) error {
	return nil
}

func (t *memTx) FindOverlappingSlots(ctx context.Context, clinicianID uuid.UUID, start, end time.Time) ([]Slot, error) {
	if t.store.skipOverlapQuery {
		return nil, nil
	}
	var out []Slot
	for _, s := range t.st.slots {
		if s.ClinicianID == clinicianID && !s.Emergency && s.Overlaps(start, end) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (t *memTx) InsertSlot(ctx context.Context, s *Slot) error {
	if _, ok := t.st.clinicians[s.ClinicianID]; !ok {
		return ErrClinicianNotFound
	}
	if !s.Emergency {
		for _, o := range t.st.slots {
			if o.ClinicianID == s.ClinicianID && !o.Emergency && o.Overlaps(s.Start, s.End) {
				return fmt.Errorf("%w: clinician %s already has a slot in [%s, %s)", ErrSlotConflict,
					s.ClinicianID, s.Start.Format(time.RFC3339), s.End.Format(time.RFC3339))
			}
		}
	}
	s.Version = 1
	t.st.slots[s.ID] = *s
	return nil
}

func (t *memTx) UpdateSlotStatus(ctx context.Context, id uuid.UUID, version int64, to SlotStatus) (*Slot, error) {
	s, ok := t.st.slots[id]
	if !ok || s.Version != version {
		return nil, fmt.Errorf("%w: slot %s changed since version %d", ErrStoreContention, id, version)
	}
	s.Status = to
	s.Version++
	t.st.slots[id] = s
	return &s, nil
}

func (t *memTx) LockBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, ok := t.st.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return &b, nil
}

func (t *memTx) InsertBooking(ctx context.Context, b *Booking) error {
	if _, ok := t.st.patients[b.PatientID]; !ok {
		return ErrPatientNotFound
	}
	if b.Status.IsLive() {
		for _, o := range t.st.bookings {
			if !o.Status.IsLive() {
				continue
			}
			if o.SlotID == b.SlotID {
				return fmt.Errorf("%w: slot %s already has a live booking", ErrSlotUnavailable, b.SlotID)
			}
			if b.IsWalkIn && o.IsWalkIn && o.PatientID == b.PatientID {
				return fmt.Errorf("%w: patient %s", ErrDuplicateWalkIn, b.PatientID)
			}
		}
	}
	t.st.bookings[b.ID] = *b
	return nil
}

func (t *memTx) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus) (*Booking, error) {
	b, ok := t.st.bookings[id]
	if !ok || b.Status != from {
		return nil, fmt.Errorf("%w: booking %s is no longer %s", ErrInvalidStatusTransition, id, from)
	}
	b.Status = to
	t.st.bookings[id] = b
	return &b, nil
}

func (t *memTx) FindActiveWalkIn(ctx context.Context, patientID uuid.UUID) (*Booking, error) {
	for _, b := range t.st.bookings {
		if b.PatientID == patientID && b.IsWalkIn && b.Status.IsLive() {
			return &b, nil
		}
	}
	return nil, ErrBookingNotFound
}

func (t *memTx) LockEndedWalkIns(ctx context.Context, cutoff time.Time, limit int) ([]Booking, error) {
	var out []Booking
	for _, b := range t.st.bookings {
		if len(out) == limit {
			break
		}
		if b.IsWalkIn && b.Status.IsLive() && t.st.slots[b.SlotID].End.Before(cutoff) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (t *memTx) InsertEvent(ctx context.Context, ev EventLog) error {
	ev.ID = int64(len(t.st.events) + 1)
	t.st.events = append(t.st.events, ev)
	return nil
}

// memCache is an AvailabilityCache that counts invalidations.
type memCache struct {
	mu          sync.Mutex
	entries     map[uuid.UUID][]Slot
	generations map[uuid.UUID]int64
	hits        int
	invalidated map[uuid.UUID]int
	failReads   error
}

func newMemCache() *memCache {
	return &memCache{
		entries:     map[uuid.UUID][]Slot{},
		generations: map[uuid.UUID]int64{},
		invalidated: map[uuid.UUID]int{},
	}
}

func (c *memCache) GetAvailable(ctx context.Context, clinicianID uuid.UUID) ([]Slot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failReads != nil {
		return nil, false, c.failReads
	}
	slots, ok := c.entries[clinicianID]
	if ok {
		c.hits++
	}
	return slots, ok, nil
}

func (c *memCache) Generation(ctx context.Context, clinicianID uuid.UUID) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failReads != nil {
		return 0, c.failReads
	}
	return c.generations[clinicianID], nil
}

func (c *memCache) SetAvailable(ctx context.Context, clinicianID uuid.UUID, gen int64, slots []Slot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[clinicianID] == gen {
		c.entries[clinicianID] = slots
	}
	return nil
}

func (c *memCache) Invalidate(ctx context.Context, clinicianIDs ...uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range clinicianIDs {
		delete(c.entries, id)
		c.generations[id]++
		c.invalidated[id]++
	}
	return nil
}
