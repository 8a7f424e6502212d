package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/citycare/scheduling-core/internal/events"
	redisclient "github.com/citycare/scheduling-core/internal/redis"
	"github.com/citycare/scheduling-core/internal/scheduling"
)

var testDay = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

func at(hour, min int) time.Time {
	return testDay.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
}

type apiEnv struct {
	router      http.Handler
	repo        *scheduling.MemoryRepository
	slots       *scheduling.SlotStore
	bookings    *scheduling.BookingService
	clinicianID uuid.UUID
	patientID   uuid.UUID
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	repo := scheduling.NewMemoryRepository()
	locker := redisclient.NewLocalLocker()
	log := zap.NewNop()

	slots := scheduling.NewSlotStore(repo, locker, log)
	bookings := scheduling.NewBookingService(repo, slots, locker, events.NopPublisher{}, log)

	clinicianID := uuid.New()
	repo.AddClinician(scheduling.Clinician{ID: clinicianID, Name: "Dr. Reyes"})
	patientID := uuid.New()
	repo.AddPatient(scheduling.Patient{ID: patientID, Name: "Ana Morales"})

	router := NewRouter(RouterConfig{
		Slots:    slots,
		Bookings: bookings,
		Logger:   log,
		Env:      "test",
		Version:  "test",
	})

	return &apiEnv{
		router:      router,
		repo:        repo,
		slots:       slots,
		bookings:    bookings,
		clinicianID: clinicianID,
		patientID:   patientID,
	}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func (e *apiEnv) createSlot(t *testing.T, start, end time.Time) SlotResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/slots", CreateSlotRequest{
		ClinicianID: e.clinicianID.String(),
		StartTime:   start,
		EndTime:     end,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeJSON[SlotResponse](t, rec)
}

func (e *apiEnv) createBooking(t *testing.T, slotID uuid.UUID, reason string) BookingResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/bookings", CreateBookingRequest{
		PatientID: e.patientID.String(),
		SlotID:    slotID.String(),
		Reason:    reason,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeJSON[BookingResponse](t, rec)
}

func TestCreateSlotEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	slot := env.createSlot(t, at(9, 0), at(9, 30))
	assert.Equal(t, "available", slot.Status)
	assert.Equal(t, env.clinicianID, slot.ClinicianID)
}

func TestCreateSlotEndpointInvalidRange(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/slots", CreateSlotRequest{
		ClinicianID: env.clinicianID.String(),
		StartTime:   at(10, 0),
		EndTime:     at(9, 0),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_slot_range", decodeJSON[ErrorResponse](t, rec).Error)
}

func TestCreateSlotEndpointConflict(t *testing.T) {
	env := newAPIEnv(t)

	env.createSlot(t, at(9, 0), at(9, 30))

	rec := env.do(t, http.MethodPost, "/slots", CreateSlotRequest{
		ClinicianID: env.clinicianID.String(),
		StartTime:   at(9, 15),
		EndTime:     at(9, 45),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_conflict", decodeJSON[ErrorResponse](t, rec).Error)
}

func TestCreateSlotEndpointBadBody(t *testing.T) {
	env := newAPIEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/slots", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSlotEndpointMissingFields(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/slots", map[string]string{"clinician_id": env.clinicianID.String()})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSlotEndpointUnknownClinician(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/slots", CreateSlotRequest{
		ClinicianID: uuid.NewString(),
		StartTime:   at(9, 0),
		EndTime:     at(9, 30),
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAvailableSlotsEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	first := env.createSlot(t, at(9, 0), at(9, 30))
	second := env.createSlot(t, at(10, 0), at(10, 30))

	path := fmt.Sprintf("/clinicians/%s/slots?from=%s&to=%s",
		env.clinicianID,
		at(8, 0).Format(time.RFC3339),
		at(17, 0).Format(time.RFC3339),
	)
	rec := env.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	slots := decodeJSON[[]SlotResponse](t, rec)
	require.Len(t, slots, 2)
	assert.Equal(t, first.ID, slots[0].ID)
	assert.Equal(t, second.ID, slots[1].ID)
}

func TestListAvailableSlotsEndpointBadFrom(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/clinicians/"+env.clinicianID.String()+"/slots?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClinicianScheduleEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	slot := env.createSlot(t, at(9, 0), at(9, 30))
	booking := env.createBooking(t, slot.ID, "annual physical")

	path := fmt.Sprintf("/clinicians/%s/schedule?from=%s&to=%s",
		env.clinicianID,
		at(8, 0).Format(time.RFC3339),
		at(17, 0).Format(time.RFC3339),
	)
	rec := env.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	entries := decodeJSON[[]ScheduleEntryResponse](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "booked", entries[0].Status)
	require.NotNil(t, entries[0].Booking)
	assert.Equal(t, booking.ID, entries[0].Booking.BookingID)
	assert.Equal(t, "Ana Morales", entries[0].Booking.PatientName)
	assert.Equal(t, "annual physical", entries[0].Booking.Reason)
}

func TestDeleteSlotEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	slot := env.createSlot(t, at(9, 0), at(9, 30))

	rec := env.do(t, http.MethodDelete, "/slots/"+slot.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodDelete, "/slots/"+slot.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteBookedSlotEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	slot := env.createSlot(t, at(9, 0), at(9, 30))
	env.createBooking(t, slot.ID, "")

	rec := env.do(t, http.MethodDelete, "/slots/"+slot.ID.String(), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_not_deletable", decodeJSON[ErrorResponse](t, rec).Error)
}

func TestCreateBookingEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	slot := env.createSlot(t, at(9, 0), at(9, 30))
	booking := env.createBooking(t, slot.ID, "Checkup")

	assert.Equal(t, "confirmed", booking.Status)
	assert.Equal(t, slot.ID, booking.SlotID)
	assert.Equal(t, "Checkup", booking.Reason)
}

func TestCreateBookingEndpointSlotTaken(t *testing.T) {
	env := newAPIEnv(t)

	slot := env.createSlot(t, at(9, 0), at(9, 30))
	env.createBooking(t, slot.ID, "first")

	rec := env.do(t, http.MethodPost, "/bookings", CreateBookingRequest{
		PatientID: env.patientID.String(),
		SlotID:    slot.ID.String(),
		Reason:    "second",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_unavailable", decodeJSON[ErrorResponse](t, rec).Error)
}

func TestCreateBookingEndpointUnknownPatient(t *testing.T) {
	env := newAPIEnv(t)

	slot := env.createSlot(t, at(9, 0), at(9, 30))

	rec := env.do(t, http.MethodPost, "/bookings", CreateBookingRequest{
		PatientID: uuid.NewString(),
		SlotID:    slot.ID.String(),
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "patient_not_found", decodeJSON[ErrorResponse](t, rec).Error)
}

func TestCancelBookingEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	slot := env.createSlot(t, at(9, 0), at(9, 30))
	booking := env.createBooking(t, slot.ID, "Checkup")

	rec := env.do(t, http.MethodPost, "/bookings/"+booking.ID.String()+"/cancel",
		CancelBookingRequest{Reason: "patient request"})
	require.Equal(t, http.StatusOK, rec.Code)

	cancelled := decodeJSON[BookingResponse](t, rec)
	assert.Equal(t, "cancelled", cancelled.Status)
	require.NotNil(t, cancelled.CancellationReason)
	assert.Equal(t, "patient request", *cancelled.CancellationReason)

	// The slot shows up as available again.
	path := fmt.Sprintf("/clinicians/%s/slots?from=%s&to=%s",
		env.clinicianID,
		at(8, 0).Format(time.RFC3339),
		at(17, 0).Format(time.RFC3339),
	)
	rec = env.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeJSON[[]SlotResponse](t, rec), 1)
}

func TestCancelBookingEndpointNotFound(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/bookings/"+uuid.NewString()+"/cancel", CancelBookingRequest{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelBookingEndpointTwice(t *testing.T) {
	env := newAPIEnv(t)

	slot := env.createSlot(t, at(9, 0), at(9, 30))
	booking := env.createBooking(t, slot.ID, "")

	rec := env.do(t, http.MethodPost, "/bookings/"+booking.ID.String()+"/cancel", CancelBookingRequest{})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/bookings/"+booking.ID.String()+"/cancel", CancelBookingRequest{})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "booking_already_cancelled", decodeJSON[ErrorResponse](t, rec).Error)
}

func TestRescheduleBookingEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	oldSlot := env.createSlot(t, at(9, 0), at(9, 30))
	newSlot := env.createSlot(t, at(10, 0), at(10, 30))
	booking := env.createBooking(t, oldSlot.ID, "Checkup")

	rec := env.do(t, http.MethodPost, "/bookings/"+booking.ID.String()+"/reschedule",
		RescheduleBookingRequest{NewSlotID: newSlot.ID.String(), Reason: "doctor unavailable"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	moved := decodeJSON[BookingResponse](t, rec)
	assert.Equal(t, "confirmed", moved.Status)
	assert.Equal(t, newSlot.ID, moved.SlotID)
	assert.NotEqual(t, booking.ID, moved.ID)
}

func TestRescheduleBookingEndpointSlotTaken(t *testing.T) {
	env := newAPIEnv(t)

	oldSlot := env.createSlot(t, at(9, 0), at(9, 30))
	newSlot := env.createSlot(t, at(10, 0), at(10, 30))
	booking := env.createBooking(t, oldSlot.ID, "")
	env.createBooking(t, newSlot.ID, "taken")

	rec := env.do(t, http.MethodPost, "/bookings/"+booking.ID.String()+"/reschedule",
		RescheduleBookingRequest{NewSlotID: newSlot.ID.String()})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_unavailable", decodeJSON[ErrorResponse](t, rec).Error)
}

func TestPatientBookingsEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	first := env.createSlot(t, at(9, 0), at(9, 30))
	second := env.createSlot(t, at(11, 0), at(11, 30))
	env.createBooking(t, first.ID, "one")
	env.createBooking(t, second.ID, "two")

	rec := env.do(t, http.MethodGet, "/patients/"+env.patientID.String()+"/bookings", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	list := decodeJSON[[]BookingDetailResponse](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].SlotID)
	assert.Equal(t, first.ID, list[1].SlotID)
}

func TestRequestIDHeader(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/patients/"+env.patientID.String()+"/bookings", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
