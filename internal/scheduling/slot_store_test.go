package scheduling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/citycare/scheduling-core/internal/events"
	redisclient "github.com/citycare/scheduling-core/internal/redis"
)

var testDay = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

func at(hour, min int) time.Time {
	return testDay.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
}

type testEnv struct {
	repo     *MemoryRepository
	slots    *SlotStore
	bookings *BookingService
	events   *captureEvents

	clinicianID uuid.UUID
	patientID   uuid.UUID
}

type captureEvents struct {
	mu        sync.Mutex
	published []events.Event
}

func (c *captureEvents) Publish(_ context.Context, ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, ev)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := NewMemoryRepository()
	locker := redisclient.NewLocalLocker()
	log := zap.NewNop()
	capture := &captureEvents{}

	slots := NewSlotStore(repo, locker, log)
	bookings := NewBookingService(repo, slots, locker, capture, log)

	clinicianID := uuid.New()
	repo.AddClinician(Clinician{ID: clinicianID, Name: "Dr. Reyes"})

	patientID := uuid.New()
	repo.AddPatient(Patient{ID: patientID, Name: "Ana Morales"})

	return &testEnv{
		repo:        repo,
		slots:       slots,
		bookings:    bookings,
		events:      capture,
		clinicianID: clinicianID,
		patientID:   patientID,
	}
}

func (e *testEnv) mustCreateSlot(t *testing.T, start, end time.Time) *Slot {
	t.Helper()
	slot, err := e.slots.CreateSlot(context.Background(), e.clinicianID, start, end)
	require.NoError(t, err)
	return slot
}

func TestCreateSlot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	slot, err := env.slots.CreateSlot(ctx, env.clinicianID, at(9, 0), at(9, 30))
	require.NoError(t, err)
	assert.Equal(t, SlotAvailable, slot.Status)
	assert.Equal(t, env.clinicianID, slot.ClinicianID)
	assert.Equal(t, at(9, 0), slot.StartTime)
	assert.Equal(t, at(9, 30), slot.EndTime)
}

func TestCreateSlotInvalidRange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.slots.CreateSlot(ctx, env.clinicianID, at(10, 0), at(9, 0))
	assert.ErrorIs(t, err, ErrInvalidSlotRange)

	_, err = env.slots.CreateSlot(ctx, env.clinicianID, at(9, 0), at(9, 0))
	assert.ErrorIs(t, err, ErrInvalidSlotRange)
}

func TestCreateSlotUnknownClinician(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.slots.CreateSlot(context.Background(), uuid.New(), at(9, 0), at(9, 30))
	assert.ErrorIs(t, err, ErrClinicianNotFound)
}

func TestCreateSlotOverlapConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.mustCreateSlot(t, at(9, 0), at(9, 30))

	_, err := env.slots.CreateSlot(ctx, env.clinicianID, at(9, 15), at(9, 45))
	assert.ErrorIs(t, err, ErrSlotConflict)

	// Fully contained interval conflicts too.
	_, err = env.slots.CreateSlot(ctx, env.clinicianID, at(9, 10), at(9, 20))
	assert.ErrorIs(t, err, ErrSlotConflict)
}

func TestCreateSlotAdjacentAllowed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.mustCreateSlot(t, at(9, 0), at(9, 30))

	// Half-open intervals: sharing a boundary is not an overlap.
	_, err := env.slots.CreateSlot(ctx, env.clinicianID, at(9, 30), at(10, 0))
	assert.NoError(t, err)
}

func TestCreateSlotOtherClinicianMayOverlap(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.mustCreateSlot(t, at(9, 0), at(9, 30))

	otherID := uuid.New()
	env.repo.AddClinician(Clinician{ID: otherID, Name: "Dr. Okafor"})

	_, err := env.slots.CreateSlot(ctx, otherID, at(9, 0), at(9, 30))
	assert.NoError(t, err)
}

func TestListAvailable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	late := env.mustCreateSlot(t, at(14, 0), at(14, 30))
	early := env.mustCreateSlot(t, at(9, 0), at(9, 30))
	outside := env.mustCreateSlot(t, at(18, 0), at(18, 30))

	slots, err := env.slots.ListAvailable(ctx, env.clinicianID, at(8, 0), at(17, 0))
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, early.ID, slots[0].ID)
	assert.Equal(t, late.ID, slots[1].ID)

	slots, err = env.slots.ListAvailable(ctx, env.clinicianID, at(17, 0), at(20, 0))
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, outside.ID, slots[0].ID)
}

func TestListAvailableEmpty(t *testing.T) {
	env := newTestEnv(t)

	slots, err := env.slots.ListAvailable(context.Background(), env.clinicianID, at(8, 0), at(17, 0))
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestListAvailableExcludesBooked(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	slot := env.mustCreateSlot(t, at(9, 0), at(9, 30))
	_, err := env.bookings.CreateBooking(ctx, env.patientID, slot.ID, "checkup")
	require.NoError(t, err)

	slots, err := env.slots.ListAvailable(ctx, env.clinicianID, at(8, 0), at(17, 0))
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestSchedule(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	booked := env.mustCreateSlot(t, at(9, 0), at(9, 30))
	open := env.mustCreateSlot(t, at(10, 0), at(10, 30))

	booking, err := env.bookings.CreateBooking(ctx, env.patientID, booked.ID, "annual physical")
	require.NoError(t, err)

	entries, err := env.slots.Schedule(ctx, env.clinicianID, at(8, 0), at(17, 0))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, booked.ID, entries[0].ID)
	require.NotNil(t, entries[0].Booking)
	assert.Equal(t, booking.ID, entries[0].Booking.BookingID)
	assert.Equal(t, env.patientID, entries[0].Booking.PatientID)
	assert.Equal(t, "Ana Morales", entries[0].Booking.PatientName)
	assert.Equal(t, "annual physical", entries[0].Booking.Reason)

	assert.Equal(t, open.ID, entries[1].ID)
	assert.Nil(t, entries[1].Booking)
}

func TestClaimAndRelease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	slot := env.mustCreateSlot(t, at(9, 0), at(9, 30))

	claimed, err := env.slots.Claim(ctx, env.repo, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, SlotBooked, claimed.Status)

	// A booked slot cannot be claimed again.
	_, err = env.slots.Claim(ctx, env.repo, slot.ID)
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	released, err := env.slots.Release(ctx, env.repo, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, SlotAvailable, released.Status)
}

func TestClaimMissingSlot(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.slots.Claim(context.Background(), env.repo, uuid.New())
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestReleaseIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	slot := env.mustCreateSlot(t, at(9, 0), at(9, 30))

	_, err := env.slots.Claim(ctx, env.repo, slot.ID)
	require.NoError(t, err)

	first, err := env.slots.Release(ctx, env.repo, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, SlotAvailable, first.Status)

	second, err := env.slots.Release(ctx, env.repo, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, SlotAvailable, second.Status)
}

func TestReleaseMissingSlot(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.slots.Release(context.Background(), env.repo, uuid.New())
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestDeleteSlot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	slot := env.mustCreateSlot(t, at(9, 0), at(9, 30))

	require.NoError(t, env.slots.DeleteSlot(ctx, slot.ID))

	_, err := env.repo.GetSlotByID(ctx, slot.ID)
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestDeleteSlotNotDeletable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	slot := env.mustCreateSlot(t, at(9, 0), at(9, 30))
	_, err := env.bookings.CreateBooking(ctx, env.patientID, slot.ID, "")
	require.NoError(t, err)

	err = env.slots.DeleteSlot(ctx, slot.ID)
	assert.ErrorIs(t, err, ErrSlotNotDeletable)
}

func TestDeleteSlotMissing(t *testing.T) {
	env := newTestEnv(t)

	err := env.slots.DeleteSlot(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestDeletedIntervalReusable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	slot := env.mustCreateSlot(t, at(9, 0), at(9, 30))
	require.NoError(t, env.slots.DeleteSlot(ctx, slot.ID))

	_, err := env.slots.CreateSlot(ctx, env.clinicianID, at(9, 0), at(9, 30))
	assert.NoError(t, err)
}
