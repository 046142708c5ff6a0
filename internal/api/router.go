package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/medication-adherence-engine/internal/adherence"
	"github.com/hackgods/medication-adherence-engine/internal/dose"
	"github.com/hackgods/medication-adherence-engine/internal/notify"
	"github.com/hackgods/medication-adherence-engine/internal/reminder"
	"github.com/hackgods/medication-adherence-engine/internal/stock"
)

// materializeWindow is how far ahead user-triggered and batch materialization
// extend the dose ledger.
const materializeWindow = 7 * 24 * time.Hour

type RouterConfig struct {
	Doses            *dose.Service
	Stock            *stock.Forecaster
	Scheduler        *reminder.Scheduler
	Dispatcher       *notify.Dispatcher
	Evaluator        *adherence.Evaluator
	PgPool           *pgxpool.Pool
	Redis            *redis.Client
	AutomationSecret string
	Env              string
	Version          string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	auth := Auth{AutomationSecret: cfg.AutomationSecret}

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// User-facing engine endpoints
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser)

		r.Post("/items/{itemID}/doses/materialize", materializeDosesHandler(cfg.Doses, materializeWindow))
		r.Post("/doses/{id}/action", doseActionHandler(cfg.Doses))
		r.Get("/doses", listDosesHandler(cfg.Doses))

		r.Get("/stock/projections", projectionsHandler(cfg.Stock))
		r.Post("/stock/{itemID}/refill", refillHandler(cfg.Stock))
		r.Post("/stock/{itemID}/projected-end", projectedEndHandler(cfg.Stock))

		r.Get("/users/{id}/streak", streakHandler(cfg.Evaluator))
		r.Post("/users/{id}/streak/freeze", freezeHandler(cfg.Evaluator))
		r.Get("/users/{id}/alerts", alertsHandler(cfg.Evaluator))
		r.Post("/users/{id}/alerts/{alertID}/dismiss", dismissAlertHandler(cfg.Evaluator))
	})

	// Batch trigger endpoints, automation secret only
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAutomation)

		r.Post("/triggers/materialize", materializeAllHandler(cfg.Doses, materializeWindow))
		r.Post("/triggers/generate-intents", generateIntentsHandler(cfg.Scheduler))
		r.Post("/triggers/dispatch-due", dispatchDueHandler(cfg.Dispatcher))
		r.Get("/metrics/notifications", metricsHandler(cfg.Dispatcher))
	})

	return r
}
