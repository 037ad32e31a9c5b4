package opsapi

import (
	"net/http"

	"github.com/hakimfrh/swm-worker/internal/datastore"
	"github.com/rs/zerolog"
)

// SweepResponse reports how many devices an offline sweep marked offline.
type SweepResponse struct {
	SweptOffline int64 `json:"swept_offline"`
}

// AdminHandler exposes operator-triggered maintenance actions. It is
// mounted behind BearerAuth and RateLimiter — it is never reachable
// unauthenticated or unthrottled.
type AdminHandler struct {
	db  *datastore.DB
	log zerolog.Logger
}

// NewAdminHandler builds an AdminHandler.
func NewAdminHandler(db *datastore.DB, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{db: db, log: log.With().Str("component", "opsapi.admin").Logger()}
}

// SweepOffline triggers an immediate offline sweep. Nothing schedules
// this automatically; an external cron or operator calls it.
func (h *AdminHandler) SweepOffline(w http.ResponseWriter, r *http.Request) {
	n, err := h.db.SweepOffline(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("offline sweep failed")
		WriteError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	h.log.Info().Int64("swept_offline", n).Msg("offline sweep completed")
	WriteJSON(w, http.StatusOK, SweepResponse{SweptOffline: n})
}
