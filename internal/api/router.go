package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-scheduling/internal/scheduling"
)

type RouterConfig struct {
	Service            SchedulingService
	Postgres           postgresPinger
	Redis              redisPinger
	Logger             *zap.Logger
	Env                string
	Version            string
	CORSOrigins        []string
	RateLimitPerMinute int
}

var (
	slotManagers    = []scheduling.Role{scheduling.RoleClinician, scheduling.RoleStaff, scheduling.RoleAdmin}
	walkInAdmitters = []scheduling.Role{scheduling.RoleStaff, scheduling.RoleAdmin}
)

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", HeaderRequestID, HeaderActorID, HeaderActorRole},
		ExposedHeaders:   []string{HeaderRequestID, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(ActorMiddleware)

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	svc := cfg.Service

	r.Get("/clinicians/{id}/slots/available", listAvailableSlotsHandler(svc))
	r.Get("/bookings/{id}", getBookingHandler(svc))
	r.Get("/patients/{id}/bookings", listPatientBookingsHandler(svc))
	r.Get("/walk-ins", listWalkInsHandler(svc))

	r.Group(func(r chi.Router) {
		if cfg.RateLimitPerMinute > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitPerMinute, time.Minute))
		}

		r.With(RequireRoles(slotManagers...)).Post("/slots", defineSlotHandler(svc))
		r.With(RequireRoles(slotManagers...)).Post("/slots/{id}/block", blockSlotHandler(svc))

		r.With(RequireRoles()).Post("/bookings", createBookingHandler(svc))
		r.With(RequireRoles()).Post("/bookings/{id}/cancel", transitionHandler(svc.CancelBooking))
		r.With(RequireRoles()).Post("/bookings/{id}/reschedule", rescheduleBookingHandler(svc))
		r.With(RequireRoles(slotManagers...)).Post("/bookings/{id}/complete", transitionHandler(svc.CompleteBooking))
		r.With(RequireRoles(slotManagers...)).Post("/bookings/{id}/no-show", transitionHandler(svc.MarkNoShow))

		r.With(RequireRoles(walkInAdmitters...)).Post("/walk-ins", registerWalkInHandler(svc))
	})

	return r
}
