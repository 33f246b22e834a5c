package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackgods/appointment-ledger/internal/appointment"
	"github.com/hackgods/appointment-ledger/internal/directory"
	"github.com/hackgods/appointment-ledger/internal/metrics"
)

type RouterConfig struct {
	Ledger    *appointment.Ledger
	Directory directory.Directory
	Logger    *zap.Logger
	Metrics   *metrics.Collector
	Health    []Dependency
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger.Named("http"), cfg.Metrics))

	// Health endpoints
	health := NewHealthHandler(cfg.Health, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())

	// Appointment endpoints
	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(cfg.Ledger, cfg.Directory))
		r.Get("/", listAppointmentsHandler(cfg.Ledger))
		r.Get("/{id}", getAppointmentHandler(cfg.Ledger))
		r.Delete("/{id}", removeAppointmentHandler(cfg.Ledger))
		r.Post("/{id}/reschedule", rescheduleHandler(cfg.Ledger))
		r.Post("/{id}/cancel", cancelHandler(cfg.Ledger))
		r.Post("/{id}/respond", respondHandler(cfg.Ledger))
		r.Post("/{id}/outcome", recordOutcomeHandler(cfg.Ledger))
		r.Put("/{id}/prescription-status", prescriptionStatusHandler(cfg.Ledger))
	})

	// Provider endpoints
	r.Route("/providers/{id}", func(r chi.Router) {
		r.Get("/", getProviderHandler(cfg.Directory))
		r.Get("/slots", slotsHandler(cfg.Ledger, cfg.Directory))
		r.Get("/availability", availabilityHandler(cfg.Ledger))
		r.Post("/blocks", blockSlotHandler(cfg.Ledger, true))
		r.Delete("/blocks", blockSlotHandler(cfg.Ledger, false))
	})

	return r
}
