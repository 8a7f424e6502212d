package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/citycare/scheduling-core/internal/scheduling"
)

type RouterConfig struct {
	Slots    *scheduling.SlotStore
	Bookings *scheduling.BookingService
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Logger   *zap.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Slot store
	r.Post("/slots", createSlotHandler(cfg.Slots))
	r.Delete("/slots/{id}", deleteSlotHandler(cfg.Slots))
	r.Get("/clinicians/{id}/slots", listAvailableSlotsHandler(cfg.Slots))
	r.Get("/clinicians/{id}/schedule", clinicianScheduleHandler(cfg.Bookings))

	// Booking manager
	r.Post("/bookings", createBookingHandler(cfg.Bookings))
	r.Post("/bookings/{id}/cancel", cancelBookingHandler(cfg.Bookings))
	r.Post("/bookings/{id}/reschedule", rescheduleBookingHandler(cfg.Bookings))
	r.Get("/patients/{id}/bookings", patientBookingsHandler(cfg.Bookings))

	return r
}
