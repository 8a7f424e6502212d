package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
	SlotCancelled SlotStatus = "cancelled"
)

type BookingStatus string

const (
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Clinician struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Slot is a bookable half-open interval [StartTime, EndTime) owned by one
// clinician. Available and booked slots of the same clinician never overlap.
type Slot struct {
	ID          uuid.UUID
	ClinicianID uuid.UUID
	StartTime   time.Time
	EndTime     time.Time
	Status      SlotStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Overlaps reports whether the slot intersects [start, end). Adjacent
// intervals sharing a boundary do not overlap.
func (s *Slot) Overlaps(start, end time.Time) bool {
	return s.StartTime.Before(end) && start.Before(s.EndTime)
}

// Booking is a patient's claim on a slot. The slot status is the source of
// truth: at most one non-cancelled booking references a slot.
type Booking struct {
	ID                 uuid.UUID
	PatientID          uuid.UUID
	ClinicianID        uuid.UUID
	SlotID             uuid.UUID
	Reason             string
	Status             BookingStatus
	CreatedAt          time.Time
	CancelledAt        *time.Time
	CancellationReason *string
}

// BookingDetail joins a booking with its slot times for patient-facing reads.
type BookingDetail struct {
	Booking
	SlotStartTime time.Time
	SlotEndTime   time.Time
}

// ScheduleBooking is the booking projection attached to a booked slot in a
// clinician schedule.
type ScheduleBooking struct {
	BookingID   uuid.UUID
	PatientID   uuid.UUID
	PatientName string
	Reason      string
}

// ScheduleEntry is one slot of a clinician schedule, with its active booking
// when the slot is booked.
type ScheduleEntry struct {
	Slot
	Booking *ScheduleBooking
}

// OutboxEvent is a committed scheduling outcome waiting to be relayed to the
// message broker. Rows are written in the same transaction as the mutation
// they describe.
type OutboxEvent struct {
	ID          int64
	EventType   string
	BookingID   *uuid.UUID
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}
