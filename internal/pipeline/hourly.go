package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/hakimfrh/swm-worker/internal/datastore"
	"github.com/rs/zerolog"
)

// Hourly computes and writes the completed-hour rollup when a device's
// samples cross an hour boundary.
type Hourly struct {
	db  *datastore.DB
	log zerolog.Logger
}

// NewHourly builds an Hourly processor over db.
func NewHourly(db *datastore.DB, log zerolog.Logger) *Hourly {
	return &Hourly{db: db, log: log.With().Str("component", "hourly_processor").Logger()}
}

// Handle asks the repository for the completed hour's aggregate and, if
// one exists, upserts the hourly row. delta is nil when there was
// nothing to write (no minute rows yet, or no previous-hour reference);
// that is not treated as an error.
func (h *Hourly) Handle(ctx context.Context, deviceID int64, hourStart time.Time, lastEnergy float64) (bool, *float64, error) {
	agg, err := h.db.ComputeHourlyFromMinute(ctx, deviceID, hourStart)
	if errors.Is(err, datastore.ErrNotFound) {
		h.log.Debug().Int64("device_id", deviceID).Time("hour_start", hourStart).Msg("hourly aggregate not computable yet, skipping")
		return true, nil, nil
	}
	if err != nil {
		return false, nil, err
	}

	if err := h.db.UpsertHourly(ctx, deviceID, hourStart, agg.Averages, lastEnergy, agg.EnergyDelta); err != nil {
		return false, nil, err
	}

	delta := agg.EnergyDelta
	return true, &delta, nil
}
