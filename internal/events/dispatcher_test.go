package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleBooked() AppointmentBooked {
	return AppointmentBooked{
		BookingID:      uuid.New(),
		PatientID:      uuid.New(),
		ClinicianID:    uuid.New(),
		SlotID:         uuid.New(),
		SlotStartTime:  time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
		SlotEndTime:    time.Date(2026, 9, 1, 9, 30, 0, 0, time.UTC),
		ReasonForVisit: "Checkup",
	}
}

func TestDispatcherDelivers(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	var received []Event
	d.Subscribe(func(_ context.Context, ev Event) {
		received = append(received, ev)
	})

	ev := sampleBooked()
	d.Publish(context.Background(), ev)

	require.Len(t, received, 1)
	assert.Equal(t, ev, received[0])
}

func TestDispatcherMultipleSubscribers(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	count := 0
	d.Subscribe(func(context.Context, Event) { count++ })
	d.Subscribe(func(context.Context, Event) { count++ })

	d.Publish(context.Background(), sampleBooked())
	assert.Equal(t, 2, count)
}

func TestDispatcherPanickingSubscriberIsolated(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	var delivered bool
	d.Subscribe(func(context.Context, Event) { panic("boom") })
	d.Subscribe(func(context.Context, Event) { delivered = true })

	assert.NotPanics(t, func() {
		d.Publish(context.Background(), sampleBooked())
	})
	assert.True(t, delivered)
}

func TestDispatcherNoSubscribers(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	assert.NotPanics(t, func() {
		d.Publish(context.Background(), sampleBooked())
	})
}

func TestEventTypes(t *testing.T) {
	assert.Equal(t, TypeAppointmentBooked, AppointmentBooked{}.EventType())
	assert.Equal(t, TypeAppointmentCancelled, AppointmentCancelled{}.EventType())
}
