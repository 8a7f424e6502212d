package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	TypeAppointmentBooked    = "APPOINTMENT_BOOKED"
	TypeAppointmentCancelled = "APPOINTMENT_CANCELLED"
)

// Event is a committed scheduling outcome announced to out-of-scope
// consumers (billing, notifications, clinical).
type Event interface {
	EventType() string
}

type AppointmentBooked struct {
	BookingID      uuid.UUID `json:"bookingId"`
	PatientID      uuid.UUID `json:"patientId"`
	ClinicianID    uuid.UUID `json:"clinicianId"`
	SlotID         uuid.UUID `json:"slotId"`
	SlotStartTime  time.Time `json:"slotStartTime"`
	SlotEndTime    time.Time `json:"slotEndTime"`
	ReasonForVisit string    `json:"reasonForVisit"`
}

func (AppointmentBooked) EventType() string { return TypeAppointmentBooked }

type AppointmentCancelled struct {
	BookingID      uuid.UUID `json:"bookingId"`
	PatientID      uuid.UUID `json:"patientId"`
	ClinicianID    uuid.UUID `json:"clinicianId"`
	SlotID         uuid.UUID `json:"slotId"`
	CancelledAt    time.Time `json:"cancelledAt"`
	ReasonForVisit string    `json:"reasonForVisit"`
}

func (AppointmentCancelled) EventType() string { return TypeAppointmentCancelled }
