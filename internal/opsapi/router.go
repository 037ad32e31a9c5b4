package opsapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hakimfrh/swm-worker/internal/datastore"
	"github.com/hakimfrh/swm-worker/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Config controls what the ops router exposes.
type Config struct {
	AdminToken string
	AdminRPS   float64
	AdminBurst int
	StartTime  time.Time
}

// NewRouter builds the worker's ops HTTP surface: /healthz, /metrics,
// and a bearer-gated, rate-limited /admin/sweep.
func NewRouter(db *datastore.DB, mqtt MQTTStatus, cfg Config, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(metrics.InstrumentHandler)

	health := NewHealthHandler(db, mqtt, cfg.StartTime)
	r.Get("/healthz", health.ServeHTTP)

	r.Handle("/metrics", promhttp.Handler())

	admin := NewAdminHandler(db, log)
	r.Route("/admin", func(ar chi.Router) {
		ar.Use(BearerAuth(cfg.AdminToken))
		ar.Use(RateLimiter(cfg.AdminRPS, cfg.AdminBurst))
		ar.Post("/sweep", admin.SweepOffline)
	})

	return r
}
