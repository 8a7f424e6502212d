package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	redisclient "github.com/citycare/scheduling-core/internal/redis"
)

var (
	ErrInvalidSlotRange = errors.New("slot start must be before end")
	ErrSlotConflict     = errors.New("slot overlaps an existing slot for this clinician")
	ErrSlotUnavailable  = errors.New("slot is not available")
	ErrSlotNotDeletable = errors.New("only available slots can be deleted")
	ErrSlotContended    = errors.New("slot is being modified, please retry")
)

// SlotStore owns the definitive set of bookable intervals per clinician and
// every slot status transition. Claim and Release are the only mutation
// points the booking manager may use.
type SlotStore struct {
	repo   Repository
	locker redisclient.Locker
	log    *zap.Logger
}

func NewSlotStore(repo Repository, locker redisclient.Locker, log *zap.Logger) *SlotStore {
	return &SlotStore{
		repo:   repo,
		locker: locker,
		log:    log,
	}
}

// CreateSlot validates the interval and persists a new available slot. The
// overlap check and insert run in one transaction under a per-clinician lock,
// so two concurrent creates for overlapping ranges cannot both succeed; the
// database exclusion constraint backstops the same invariant.
func (s *SlotStore) CreateSlot(ctx context.Context, clinicianID uuid.UUID, start, end time.Time) (*Slot, error) {
	if !start.Before(end) {
		return nil, ErrInvalidSlotRange
	}

	if _, err := s.repo.GetClinicianByID(ctx, clinicianID); err != nil {
		if errors.Is(err, ErrClinicianNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load clinician: %w", err)
	}

	var created *Slot

	err := s.locker.WithLock(ctx, redisclient.ClinicianKey(clinicianID), func(lockCtx context.Context) error {
		return s.repo.InTx(lockCtx, func(tx Repository) error {
			n, err := tx.CountOverlappingSlots(lockCtx, clinicianID, start, end)
			if err != nil {
				return err
			}
			if n > 0 {
				return ErrSlotConflict
			}

			slot := &Slot{
				ID:          uuid.New(),
				ClinicianID: clinicianID,
				StartTime:   start,
				EndTime:     end,
				Status:      SlotAvailable,
			}
			if err := tx.InsertSlot(lockCtx, slot); err != nil {
				return err
			}

			created = slot
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotContended
		}
		return nil, err
	}

	s.log.Info("slot created",
		zap.String("slot_id", created.ID.String()),
		zap.String("clinician_id", clinicianID.String()),
		zap.Time("start", start),
		zap.Time("end", end),
	)

	return created, nil
}

// ListAvailable returns the clinician's available slots intersecting
// [from, to), ordered by start time. An empty result is not an error.
func (s *SlotStore) ListAvailable(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]Slot, error) {
	if !from.Before(to) {
		return nil, ErrInvalidSlotRange
	}
	slots, err := s.repo.ListAvailableSlots(ctx, clinicianID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	return slots, nil
}

// Schedule returns every slot intersecting the range regardless of status,
// joined with the active booking's patient and reason where booked.
func (s *SlotStore) Schedule(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]ScheduleEntry, error) {
	if !from.Before(to) {
		return nil, ErrInvalidSlotRange
	}
	entries, err := s.repo.ClinicianSchedule(ctx, clinicianID, from, to)
	if err != nil {
		return nil, fmt.Errorf("clinician schedule: %w", err)
	}
	return entries, nil
}

// Claim transitions a slot from available to booked inside the caller's
// transaction. Fails with ErrSlotUnavailable for missing or non-available
// slots. This is the single mutation point enforcing at most one booking
// per slot.
func (s *SlotStore) Claim(ctx context.Context, tx Repository, slotID uuid.UUID) (*Slot, error) {
	return tx.ClaimSlot(ctx, slotID)
}

// Release transitions a slot from booked back to available inside the
// caller's transaction. Releasing an already-available slot is a no-op.
func (s *SlotStore) Release(ctx context.Context, tx Repository, slotID uuid.UUID) (*Slot, error) {
	return tx.ReleaseSlot(ctx, slotID)
}

// DeleteSlot removes a slot that is still available. Booked or cancelled
// slots cannot be deleted.
func (s *SlotStore) DeleteSlot(ctx context.Context, slotID uuid.UUID) error {
	if err := s.repo.DeleteSlot(ctx, slotID); err != nil {
		return err
	}
	s.log.Info("slot deleted", zap.String("slot_id", slotID.String()))
	return nil
}
