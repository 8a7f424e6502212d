package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/citycare/scheduling-core/internal/events"
	redisclient "github.com/citycare/scheduling-core/internal/redis"
)

var (
	ErrBookingAlreadyCancelled = errors.New("booking is already cancelled")
	ErrBookingCompleted        = errors.New("booking is completed and can no longer change")
)

// BookingService composes slot claims and releases with the booking record
// lifecycle as single atomic transactions. It is the only component calling
// the slot store's Claim and Release.
type BookingService struct {
	repo      Repository
	slots     *SlotStore
	locker    redisclient.Locker
	publisher events.Publisher
	log       *zap.Logger
}

func NewBookingService(repo Repository, slots *SlotStore, locker redisclient.Locker, publisher events.Publisher, log *zap.Logger) *BookingService {
	return &BookingService{
		repo:      repo,
		slots:     slots,
		locker:    locker,
		publisher: publisher,
		log:       log,
	}
}

// CreateBooking claims the slot and creates a confirmed booking as one
// transaction. A slot that cannot be claimed surfaces ErrSlotUnavailable with
// no booking created; a booking insert failure rolls the claim back.
func (s *BookingService) CreateBooking(ctx context.Context, patientID, slotID uuid.UUID, reason string) (*Booking, error) {
	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	var created *Booking
	var booked events.AppointmentBooked

	err := s.locker.WithLock(ctx, redisclient.SlotKey(slotID), func(lockCtx context.Context) error {
		return s.repo.InTx(lockCtx, func(tx Repository) error {
			slot, err := s.slots.Claim(lockCtx, tx, slotID)
			if err != nil {
				return err
			}

			b := &Booking{
				ID:          uuid.New(),
				PatientID:   patientID,
				ClinicianID: slot.ClinicianID,
				SlotID:      slot.ID,
				Reason:      reason,
				Status:      BookingConfirmed,
				CreatedAt:   time.Now().UTC(),
			}
			if err := tx.InsertBooking(lockCtx, b); err != nil {
				return err
			}

			booked = events.AppointmentBooked{
				BookingID:      b.ID,
				PatientID:      b.PatientID,
				ClinicianID:    b.ClinicianID,
				SlotID:         b.SlotID,
				SlotStartTime:  slot.StartTime,
				SlotEndTime:    slot.EndTime,
				ReasonForVisit: b.Reason,
			}
			if err := insertOutbox(lockCtx, tx, booked, b.ID); err != nil {
				return err
			}

			created = b
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotContended
		}
		return nil, err
	}

	s.log.Info("booking created",
		zap.String("booking_id", created.ID.String()),
		zap.String("slot_id", slotID.String()),
		zap.String("patient_id", patientID.String()),
	)
	s.publisher.Publish(ctx, booked)

	return created, nil
}

// CancelBooking cancels a confirmed booking and releases its slot back to
// availability as one transaction.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID uuid.UUID, reason string) (*Booking, error) {
	var cancelled *Booking
	var ev events.AppointmentCancelled

	err := s.repo.InTx(ctx, func(tx Repository) error {
		b, err := tx.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := cancellableStatus(b); err != nil {
			return err
		}

		now := time.Now().UTC()
		upd, err := tx.MarkBookingCancelled(ctx, b.ID, reason, now)
		if err != nil {
			return fmt.Errorf("cancel booking: %w", err)
		}

		if _, err := s.slots.Release(ctx, tx, b.SlotID); err != nil {
			return err
		}

		ev = events.AppointmentCancelled{
			BookingID:      b.ID,
			PatientID:      b.PatientID,
			ClinicianID:    b.ClinicianID,
			SlotID:         b.SlotID,
			CancelledAt:    now,
			ReasonForVisit: b.Reason,
		}
		if err := insertOutbox(ctx, tx, ev, b.ID); err != nil {
			return err
		}

		cancelled = upd
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("booking cancelled",
		zap.String("booking_id", bookingID.String()),
		zap.String("reason", reason),
	)
	s.publisher.Publish(ctx, ev)

	return cancelled, nil
}

// RescheduleBooking moves a confirmed booking onto a new slot: claim new
// slot, create the new booking, cancel the old one, release the old slot, all
// in one transaction. Any failure rolls every step back, so the original
// booking and slot are untouched when the new slot cannot be claimed.
func (s *BookingService) RescheduleBooking(ctx context.Context, bookingID, newSlotID uuid.UUID, reason string) (*Booking, error) {
	var moved *Booking
	var booked events.AppointmentBooked
	var cancelled events.AppointmentCancelled

	err := s.locker.WithLock(ctx, redisclient.SlotKey(newSlotID), func(lockCtx context.Context) error {
		return s.repo.InTx(lockCtx, func(tx Repository) error {
			old, err := tx.GetBookingForUpdate(lockCtx, bookingID)
			if err != nil {
				return err
			}
			if err := cancellableStatus(old); err != nil {
				return err
			}

			newSlot, err := s.slots.Claim(lockCtx, tx, newSlotID)
			if err != nil {
				return err
			}

			now := time.Now().UTC()

			nb := &Booking{
				ID:          uuid.New(),
				PatientID:   old.PatientID,
				ClinicianID: newSlot.ClinicianID,
				SlotID:      newSlot.ID,
				Reason:      old.Reason,
				Status:      BookingConfirmed,
				CreatedAt:   now,
			}

			if _, err := tx.MarkBookingCancelled(lockCtx, old.ID, reason, now); err != nil {
				return fmt.Errorf("cancel old booking: %w", err)
			}
			if _, err := s.slots.Release(lockCtx, tx, old.SlotID); err != nil {
				return err
			}
			if err := tx.InsertBooking(lockCtx, nb); err != nil {
				return err
			}

			booked = events.AppointmentBooked{
				BookingID:      nb.ID,
				PatientID:      nb.PatientID,
				ClinicianID:    nb.ClinicianID,
				SlotID:         nb.SlotID,
				SlotStartTime:  newSlot.StartTime,
				SlotEndTime:    newSlot.EndTime,
				ReasonForVisit: nb.Reason,
			}
			cancelled = events.AppointmentCancelled{
				BookingID:      old.ID,
				PatientID:      old.PatientID,
				ClinicianID:    old.ClinicianID,
				SlotID:         old.SlotID,
				CancelledAt:    now,
				ReasonForVisit: old.Reason,
			}
			if err := insertOutbox(lockCtx, tx, booked, nb.ID); err != nil {
				return err
			}
			if err := insertOutbox(lockCtx, tx, cancelled, old.ID); err != nil {
				return err
			}

			moved = nb
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotContended
		}
		return nil, err
	}

	s.log.Info("booking rescheduled",
		zap.String("old_booking_id", bookingID.String()),
		zap.String("new_booking_id", moved.ID.String()),
		zap.String("new_slot_id", newSlotID.String()),
	)
	s.publisher.Publish(ctx, booked)
	s.publisher.Publish(ctx, cancelled)

	return moved, nil
}

// BookingsForPatient is a read-only projection of a patient's bookings with
// their slot times, newest first.
func (s *BookingService) BookingsForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]BookingDetail, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	bookings, err := s.repo.ListBookingsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list bookings by patient: %w", err)
	}
	return bookings, nil
}

// ClinicianSchedule is the clinician-facing read, delegated to the slot store.
func (s *BookingService) ClinicianSchedule(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]ScheduleEntry, error) {
	return s.slots.Schedule(ctx, clinicianID, from, to)
}

func cancellableStatus(b *Booking) error {
	switch b.Status {
	case BookingCancelled:
		return ErrBookingAlreadyCancelled
	case BookingCompleted:
		return ErrBookingCompleted
	default:
		return nil
	}
}

func insertOutbox(ctx context.Context, tx Repository, ev events.Event, bookingID uuid.UUID) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", ev.EventType(), err)
	}

	id := bookingID
	return tx.InsertOutboxEvent(ctx, OutboxEvent{
		EventType: ev.EventType(),
		BookingID: &id,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
}
