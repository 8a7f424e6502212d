package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound   = errors.New("patient not found")
	ErrClinicianNotFound = errors.New("clinician not found")
	ErrSlotNotFound      = errors.New("slot not found")
	ErrBookingNotFound   = errors.New("booking not found")
)

// Repository contains all store interactions needed by the slot store and the
// booking manager. InTx runs fn against a transaction-scoped Repository; any
// error from fn rolls the whole transaction back.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetClinicianByID(ctx context.Context, id uuid.UUID) (*Clinician, error)

	// Slots
	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	InsertSlot(ctx context.Context, slot *Slot) error
	CountOverlappingSlots(ctx context.Context, clinicianID uuid.UUID, start, end time.Time) (int, error)
	ListAvailableSlots(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]Slot, error)
	ClinicianSchedule(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]ScheduleEntry, error)
	ClaimSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	ReleaseSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	DeleteSlot(ctx context.Context, id uuid.UUID) error

	// Bookings
	GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error)
	InsertBooking(ctx context.Context, b *Booking) error
	MarkBookingCancelled(ctx context.Context, id uuid.UUID, reason string, at time.Time) (*Booking, error)
	ListBookingsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]BookingDetail, error)

	// Event outbox
	InsertOutboxEvent(ctx context.Context, ev OutboxEvent) error
	FindUnpublishedEvents(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkEventPublished(ctx context.Context, id int64, at time.Time) error

	InTx(ctx context.Context, fn func(tx Repository) error) error
}
