package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/citycare/scheduling-core/internal/scheduling"
)

type CreateSlotRequest struct {
	ClinicianID string    `json:"clinician_id" validate:"required,uuid"`
	StartTime   time.Time `json:"start_time" validate:"required"`
	EndTime     time.Time `json:"end_time" validate:"required"`
}

type CreateBookingRequest struct {
	PatientID string `json:"patient_id" validate:"required,uuid"`
	SlotID    string `json:"slot_id" validate:"required,uuid"`
	Reason    string `json:"reason,omitempty"`
}

type CancelBookingRequest struct {
	Reason string `json:"reason,omitempty"`
}

type RescheduleBookingRequest struct {
	NewSlotID string `json:"new_slot_id" validate:"required,uuid"`
	Reason    string `json:"reason,omitempty"`
}

type SlotResponse struct {
	ID          uuid.UUID `json:"id"`
	ClinicianID uuid.UUID `json:"clinician_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Status      string    `json:"status"`
}

type ScheduleBookingResponse struct {
	BookingID   uuid.UUID `json:"booking_id"`
	PatientID   uuid.UUID `json:"patient_id"`
	PatientName string    `json:"patient_name,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

type ScheduleEntryResponse struct {
	SlotResponse
	Booking *ScheduleBookingResponse `json:"booking,omitempty"`
}

type BookingResponse struct {
	ID                 uuid.UUID  `json:"id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	ClinicianID        uuid.UUID  `json:"clinician_id"`
	SlotID             uuid.UUID  `json:"slot_id"`
	Reason             string     `json:"reason,omitempty"`
	Status             string     `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
}

type BookingDetailResponse struct {
	BookingResponse
	SlotStartTime time.Time `json:"slot_start_time"`
	SlotEndTime   time.Time `json:"slot_end_time"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toSlotResponse(s *scheduling.Slot) SlotResponse {
	return SlotResponse{
		ID:          s.ID,
		ClinicianID: s.ClinicianID,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		Status:      string(s.Status),
	}
}

func toBookingResponse(b *scheduling.Booking) BookingResponse {
	return BookingResponse{
		ID:                 b.ID,
		PatientID:          b.PatientID,
		ClinicianID:        b.ClinicianID,
		SlotID:             b.SlotID,
		Reason:             b.Reason,
		Status:             string(b.Status),
		CreatedAt:          b.CreatedAt,
		CancelledAt:        b.CancelledAt,
		CancellationReason: b.CancellationReason,
	}
}

func toScheduleResponse(entries []scheduling.ScheduleEntry) []ScheduleEntryResponse {
	result := make([]ScheduleEntryResponse, 0, len(entries))
	for i := range entries {
		entry := ScheduleEntryResponse{
			SlotResponse: toSlotResponse(&entries[i].Slot),
		}
		if b := entries[i].Booking; b != nil {
			entry.Booking = &ScheduleBookingResponse{
				BookingID:   b.BookingID,
				PatientID:   b.PatientID,
				PatientName: b.PatientName,
				Reason:      b.Reason,
			}
		}
		result = append(result, entry)
	}
	return result
}
