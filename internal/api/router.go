package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

type RouterConfig struct {
	Service   AppointmentService
	JWTSecret string
	Checks    []Check
	Env       string
	Version   string
	Log       *logrus.Entry
}

// NewRouter builds the appointment service API. Everything except health
// requires a bearer token.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Env, cfg.Version, cfg.Checks...)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := &appointmentHandlers{svc: cfg.Service, log: cfg.Log}
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		r.Post("/appointments", h.create)
		r.Get("/appointments", h.list)
		r.Get("/appointments/{id}", h.get)
		r.Put("/appointments/{id}/cancel", h.cancel)
		r.Put("/appointments/{id}/reschedule", h.reschedule)
		r.Put("/appointments/{id}/complete", h.complete)
	})

	return r
}

type InventoryRouterConfig struct {
	Ledger  SlotLedger
	Checks  []Check
	Env     string
	Version string
	Log     *logrus.Entry
}

// NewInventoryRouter builds the doctor-inventory API called by the appointment service.
func NewInventoryRouter(cfg InventoryRouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Env, cfg.Version, cfg.Checks...)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := &inventoryHandlers{ledger: cfg.Ledger, log: cfg.Log}
	r.Put("/slots/{id}/reserve", h.reserve)
	r.Put("/slots/{id}/release", h.release)
	r.Get("/slots/available", h.available)

	r.Get("/doctors/{id}", h.getDoctor)
	r.Get("/doctors/{id}/fee", h.getFee)
	r.Post("/doctors/{id}/slots", h.createSlot)
	r.Post("/doctors/{id}/slots/generate", h.generateSlots)

	return r
}
