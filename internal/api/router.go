package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medsched/clinic-scheduling/internal/schedule"
)

type RouterConfig struct {
	Service  *schedule.Service
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Timezone *time.Location
	Logger   zerolog.Logger
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

	r.Post("/appointments", bookAppointmentHandler(cfg.Service, cfg.Logger))
	r.Get("/appointments/slots", slotsHandler(cfg.Service, cfg.Timezone, cfg.Logger))
	r.Post("/appointments/bulk", bulkHandler(cfg.Service, cfg.Logger))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service, cfg.Logger))
	r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(cfg.Service, cfg.Logger))
	r.Post("/appointments/{id}/status", updateStatusHandler(cfg.Service, cfg.Logger))

	r.Get("/locations/{id}/utilization", utilizationHandler(cfg.Service, cfg.Timezone, cfg.Logger))

	r.Put("/providers/{id}/availability", updateAvailabilityHandler(cfg.Service, cfg.Logger))
	r.Get("/providers/{id}/conflicts", providerConflictsHandler(cfg.Service, cfg.Logger))

	return r
}
