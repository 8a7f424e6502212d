package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an application-locked in-memory Repository used by
// tests and local development. Transactions take the repository mutex for
// their whole duration and restore a snapshot on failure, which gives the
// same serialized check-then-write semantics the Postgres implementation
// gets from its transactions and constraints.
type MemoryRepository struct {
	mu sync.Mutex
	st *memoryState
}

type memoryState struct {
	patients     map[uuid.UUID]Patient
	clinicians   map[uuid.UUID]Clinician
	slots        map[uuid.UUID]Slot
	bookings     map[uuid.UUID]Booking
	outbox       []OutboxEvent
	nextOutboxID int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		st: &memoryState{
			patients:     make(map[uuid.UUID]Patient),
			clinicians:   make(map[uuid.UUID]Clinician),
			slots:        make(map[uuid.UUID]Slot),
			bookings:     make(map[uuid.UUID]Booking),
			nextOutboxID: 1,
		},
	}
}

// AddPatient seeds a patient record.
func (m *MemoryRepository) AddPatient(p Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.patients[p.ID] = p
}

// AddClinician seeds a clinician record.
func (m *MemoryRepository) AddClinician(c Clinician) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.clinicians[c.ID] = c
}

func (m *MemoryRepository) InTx(ctx context.Context, fn func(tx Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.st.snapshot()
	if err := fn(m.st); err != nil {
		*m.st = *snap
		return err
	}
	return nil
}

func (s *memoryState) snapshot() *memoryState {
	snap := &memoryState{
		patients:     make(map[uuid.UUID]Patient, len(s.patients)),
		clinicians:   make(map[uuid.UUID]Clinician, len(s.clinicians)),
		slots:        make(map[uuid.UUID]Slot, len(s.slots)),
		bookings:     make(map[uuid.UUID]Booking, len(s.bookings)),
		outbox:       append([]OutboxEvent(nil), s.outbox...),
		nextOutboxID: s.nextOutboxID,
	}
	for id, p := range s.patients {
		snap.patients[id] = p
	}
	for id, c := range s.clinicians {
		snap.clinicians[id] = c
	}
	for id, sl := range s.slots {
		snap.slots[id] = sl
	}
	for id, b := range s.bookings {
		snap.bookings[id] = b
	}
	return snap
}

// Locked delegation. The transaction view (memoryState) runs the same code
// without re-locking.

func (m *MemoryRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetPatientByID(ctx, id)
}

func (m *MemoryRepository) GetClinicianByID(ctx context.Context, id uuid.UUID) (*Clinician, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetClinicianByID(ctx, id)
}

func (m *MemoryRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetSlotByID(ctx, id)
}

func (m *MemoryRepository) InsertSlot(ctx context.Context, slot *Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertSlot(ctx, slot)
}

func (m *MemoryRepository) CountOverlappingSlots(ctx context.Context, clinicianID uuid.UUID, start, end time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.CountOverlappingSlots(ctx, clinicianID, start, end)
}

func (m *MemoryRepository) ListAvailableSlots(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListAvailableSlots(ctx, clinicianID, from, to)
}

func (m *MemoryRepository) ClinicianSchedule(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]ScheduleEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ClinicianSchedule(ctx, clinicianID, from, to)
}

func (m *MemoryRepository) ClaimSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ClaimSlot(ctx, id)
}

func (m *MemoryRepository) ReleaseSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ReleaseSlot(ctx, id)
}

func (m *MemoryRepository) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteSlot(ctx, id)
}

func (m *MemoryRepository) GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetBookingForUpdate(ctx, id)
}

func (m *MemoryRepository) InsertBooking(ctx context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertBooking(ctx, b)
}

func (m *MemoryRepository) MarkBookingCancelled(ctx context.Context, id uuid.UUID, reason string, at time.Time) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.MarkBookingCancelled(ctx, id, reason, at)
}

func (m *MemoryRepository) ListBookingsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]BookingDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListBookingsByPatient(ctx, patientID, limit, offset)
}

func (m *MemoryRepository) InsertOutboxEvent(ctx context.Context, ev OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertOutboxEvent(ctx, ev)
}

func (m *MemoryRepository) FindUnpublishedEvents(ctx context.Context, limit int) ([]OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.FindUnpublishedEvents(ctx, limit)
}

func (m *MemoryRepository) MarkEventPublished(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.MarkEventPublished(ctx, id, at)
}

// State implementation

func (s *memoryState) InTx(ctx context.Context, fn func(tx Repository) error) error {
	// Already inside a transaction.
	return fn(s)
}

func (s *memoryState) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := s.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (s *memoryState) GetClinicianByID(_ context.Context, id uuid.UUID) (*Clinician, error) {
	c, ok := s.clinicians[id]
	if !ok {
		return nil, ErrClinicianNotFound
	}
	return &c, nil
}

func (s *memoryState) GetSlotByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	sl, ok := s.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &sl, nil
}

func (s *memoryState) InsertSlot(_ context.Context, slot *Slot) error {
	for _, existing := range s.slots {
		if existing.ClinicianID != slot.ClinicianID {
			continue
		}
		if existing.Status != SlotAvailable && existing.Status != SlotBooked {
			continue
		}
		if existing.Overlaps(slot.StartTime, slot.EndTime) {
			return ErrSlotConflict
		}
	}

	now := time.Now().UTC()
	stored := *slot
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.slots[slot.ID] = stored
	*slot = stored
	return nil
}

func (s *memoryState) CountOverlappingSlots(_ context.Context, clinicianID uuid.UUID, start, end time.Time) (int, error) {
	n := 0
	for _, sl := range s.slots {
		if sl.ClinicianID != clinicianID {
			continue
		}
		if sl.Status != SlotAvailable && sl.Status != SlotBooked {
			continue
		}
		if sl.Overlaps(start, end) {
			n++
		}
	}
	return n, nil
}

func (s *memoryState) ListAvailableSlots(_ context.Context, clinicianID uuid.UUID, from, to time.Time) ([]Slot, error) {
	var result []Slot
	for _, sl := range s.slots {
		if sl.ClinicianID == clinicianID && sl.Status == SlotAvailable && sl.Overlaps(from, to) {
			result = append(result, sl)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.Before(result[j].StartTime)
	})
	return result, nil
}

func (s *memoryState) ClinicianSchedule(_ context.Context, clinicianID uuid.UUID, from, to time.Time) ([]ScheduleEntry, error) {
	var result []ScheduleEntry
	for _, sl := range s.slots {
		if sl.ClinicianID != clinicianID || !sl.Overlaps(from, to) {
			continue
		}
		entry := ScheduleEntry{Slot: sl}
		for _, b := range s.bookings {
			if b.SlotID == sl.ID && b.Status != BookingCancelled {
				sb := ScheduleBooking{
					BookingID: b.ID,
					PatientID: b.PatientID,
					Reason:    b.Reason,
				}
				if p, ok := s.patients[b.PatientID]; ok {
					sb.PatientName = p.Name
				}
				entry.Booking = &sb
				break
			}
		}
		result = append(result, entry)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.Before(result[j].StartTime)
	})
	return result, nil
}

func (s *memoryState) ClaimSlot(_ context.Context, id uuid.UUID) (*Slot, error) {
	sl, ok := s.slots[id]
	if !ok || sl.Status != SlotAvailable {
		return nil, ErrSlotUnavailable
	}
	sl.Status = SlotBooked
	sl.UpdatedAt = time.Now().UTC()
	s.slots[id] = sl
	return &sl, nil
}

func (s *memoryState) ReleaseSlot(_ context.Context, id uuid.UUID) (*Slot, error) {
	sl, ok := s.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if sl.Status == SlotAvailable {
		return &sl, nil
	}
	sl.Status = SlotAvailable
	sl.UpdatedAt = time.Now().UTC()
	s.slots[id] = sl
	return &sl, nil
}

func (s *memoryState) DeleteSlot(_ context.Context, id uuid.UUID) error {
	sl, ok := s.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	if sl.Status != SlotAvailable {
		return ErrSlotNotDeletable
	}
	for _, b := range s.bookings {
		if b.SlotID == id {
			return ErrSlotNotDeletable
		}
	}
	delete(s.slots, id)
	return nil
}

func (s *memoryState) GetBookingForUpdate(_ context.Context, id uuid.UUID) (*Booking, error) {
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return &b, nil
}

func (s *memoryState) InsertBooking(_ context.Context, b *Booking) error {
	for _, existing := range s.bookings {
		if existing.SlotID == b.SlotID && existing.Status != BookingCancelled {
			return ErrSlotUnavailable
		}
	}
	s.bookings[b.ID] = *b
	return nil
}

func (s *memoryState) MarkBookingCancelled(_ context.Context, id uuid.UUID, reason string, at time.Time) (*Booking, error) {
	b, ok := s.bookings[id]
	if !ok || b.Status != BookingConfirmed {
		return nil, ErrBookingNotFound
	}
	b.Status = BookingCancelled
	cancelledAt := at
	cancellationReason := reason
	b.CancelledAt = &cancelledAt
	b.CancellationReason = &cancellationReason
	s.bookings[id] = b
	return &b, nil
}

func (s *memoryState) ListBookingsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]BookingDetail, error) {
	var result []BookingDetail
	for _, b := range s.bookings {
		if b.PatientID != patientID {
			continue
		}
		d := BookingDetail{Booking: b}
		if sl, ok := s.slots[b.SlotID]; ok {
			d.SlotStartTime = sl.StartTime
			d.SlotEndTime = sl.EndTime
		}
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[j].SlotStartTime.Before(result[i].SlotStartTime)
	})

	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *memoryState) InsertOutboxEvent(_ context.Context, ev OutboxEvent) error {
	ev.ID = s.nextOutboxID
	s.nextOutboxID++
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	s.outbox = append(s.outbox, ev)
	return nil
}

func (s *memoryState) FindUnpublishedEvents(_ context.Context, limit int) ([]OutboxEvent, error) {
	var result []OutboxEvent
	for _, ev := range s.outbox {
		if ev.PublishedAt == nil {
			result = append(result, ev)
			if limit > 0 && len(result) == limit {
				break
			}
		}
	}
	return result, nil
}

func (s *memoryState) MarkEventPublished(_ context.Context, id int64, at time.Time) error {
	for i := range s.outbox {
		if s.outbox[i].ID == id {
			published := at
			s.outbox[i].PublishedAt = &published
			return nil
		}
	}
	return nil
}
