package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/citycare/scheduling-core/internal/scheduling"
)

var validate = validator.New()

const defaultScheduleWindow = 7 * 24 * time.Hour

func createSlotHandler(slots *scheduling.SlotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		clinicianID, err := uuid.Parse(req.ClinicianID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinician_id", "clinician_id must be a valid UUID")
			return
		}

		slot, err := slots.CreateSlot(r.Context(), clinicianID, req.StartTime, req.EndTime)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toSlotResponse(slot))
	}
}

func listAvailableSlotsHandler(slots *scheduling.SlotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicianID, ok := parsePathUUID(w, r, "id", "clinician id")
		if !ok {
			return
		}
		from, to, ok := parseRange(w, r)
		if !ok {
			return
		}

		result, err := slots.ListAvailable(r.Context(), clinicianID, from, to)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		resp := make([]SlotResponse, 0, len(result))
		for i := range result {
			resp = append(resp, toSlotResponse(&result[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func clinicianScheduleHandler(bookings *scheduling.BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicianID, ok := parsePathUUID(w, r, "id", "clinician id")
		if !ok {
			return
		}
		from, to, ok := parseRange(w, r)
		if !ok {
			return
		}

		entries, err := bookings.ClinicianSchedule(r.Context(), clinicianID, from, to)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toScheduleResponse(entries))
	}
}

func deleteSlotHandler(slots *scheduling.SlotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slotID, ok := parsePathUUID(w, r, "id", "slot id")
		if !ok {
			return
		}

		if err := slots.DeleteSlot(r.Context(), slotID); err != nil {
			handleSchedulingError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func createBookingHandler(bookings *scheduling.BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}

		booking, err := bookings.CreateBooking(r.Context(), patientID, slotID, req.Reason)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toBookingResponse(booking))
	}
}

func cancelBookingHandler(bookings *scheduling.BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bookingID, ok := parsePathUUID(w, r, "id", "booking id")
		if !ok {
			return
		}

		var req CancelBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		booking, err := bookings.CancelBooking(r.Context(), bookingID, req.Reason)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponse(booking))
	}
}

func rescheduleBookingHandler(bookings *scheduling.BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bookingID, ok := parsePathUUID(w, r, "id", "booking id")
		if !ok {
			return
		}

		var req RescheduleBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		newSlotID, err := uuid.Parse(req.NewSlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "new_slot_id must be a valid UUID")
			return
		}

		booking, err := bookings.RescheduleBooking(r.Context(), bookingID, newSlotID, req.Reason)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponse(booking))
	}
}

func patientBookingsHandler(bookings *scheduling.BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := parsePathUUID(w, r, "id", "patient id")
		if !ok {
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		result, err := bookings.BookingsForPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		resp := make([]BookingDetailResponse, 0, len(result))
		for i := range result {
			resp = append(resp, BookingDetailResponse{
				BookingResponse: toBookingResponse(&result[i].Booking),
				SlotStartTime:   result[i].SlotStartTime,
				SlotEndTime:     result[i].SlotEndTime,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func parsePathUUID(w http.ResponseWriter, r *http.Request, param, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", label+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// parseRange reads the from/to query parameters as RFC3339 timestamps,
// defaulting to the next seven days when omitted.
func parseRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	from := time.Now().UTC()
	to := from.Add(defaultScheduleWindow)

	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", "from must be an RFC3339 timestamp")
			return time.Time{}, time.Time{}, false
		}
		from = parsed
		to = from.Add(defaultScheduleWindow)
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_to", "to must be an RFC3339 timestamp")
			return time.Time{}, time.Time{}, false
		}
		to = parsed
	}

	return from, to, true
}

func handleSchedulingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduling.ErrInvalidSlotRange):
		writeError(w, http.StatusBadRequest, "invalid_slot_range", err.Error())
	case errors.Is(err, scheduling.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, scheduling.ErrClinicianNotFound):
		writeError(w, http.StatusNotFound, "clinician_not_found", err.Error())
	case errors.Is(err, scheduling.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, scheduling.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, "booking_not_found", err.Error())
	case errors.Is(err, scheduling.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", err.Error())
	case errors.Is(err, scheduling.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, scheduling.ErrSlotNotDeletable):
		writeError(w, http.StatusConflict, "slot_not_deletable", err.Error())
	case errors.Is(err, scheduling.ErrBookingAlreadyCancelled):
		writeError(w, http.StatusConflict, "booking_already_cancelled", err.Error())
	case errors.Is(err, scheduling.ErrBookingCompleted):
		writeError(w, http.StatusConflict, "booking_completed", err.Error())
	case errors.Is(err, scheduling.ErrSlotContended):
		writeError(w, http.StatusConflict, "slot_contended", "slot is being modified, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
