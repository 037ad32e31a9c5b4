package opsapi

import (
	"net/http"
	"time"

	"github.com/hakimfrh/swm-worker/internal/datastore"
)

// HealthResponse mirrors what an operator's uptime check or load
// balancer probe expects: an overall status plus a per-dependency
// breakdown.
type HealthResponse struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

// MQTTStatus reports whether the transport connection is currently up.
type MQTTStatus interface {
	IsConnected() bool
}

// HealthHandler answers /healthz by checking the datastore connection
// and, if configured, the MQTT transport.
type HealthHandler struct {
	db        *datastore.DB
	mqtt      MQTTStatus
	startTime time.Time
}

// NewHealthHandler builds a HealthHandler. mqtt may be nil if the
// caller doesn't want transport status reflected in the response.
func NewHealthHandler(db *datastore.DB, mqtt MQTTStatus, startTime time.Time) *HealthHandler {
	return &HealthHandler{db: db, mqtt: mqtt, startTime: startTime}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.HealthCheck(r.Context()); err != nil {
		checks["datastore"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["datastore"] = "ok"
	}

	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	WriteJSON(w, httpStatus, HealthResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	})
}
