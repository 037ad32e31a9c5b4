// Package pipeline ties the datastore, the minute aggregator, and the
// file buffer into the per-device handler that drives each buffered
// record to a durable effect before it is checkpointed.
package pipeline

import (
	"context"
	"time"

	"github.com/hakimfrh/swm-worker/internal/datastore"
)

// Realtime upserts the latest-sample snapshot and marks the device
// online. Both steps must succeed for the sample to count as handled.
type Realtime struct {
	db *datastore.DB
}

// NewRealtime builds a Realtime processor over db.
func NewRealtime(db *datastore.DB) *Realtime {
	return &Realtime{db: db}
}

// Handle upserts the realtime snapshot and marks the device online.
func (r *Realtime) Handle(ctx context.Context, deviceID int64, sample datastore.Sample, dt time.Time) error {
	if err := r.db.UpsertRealtime(ctx, deviceID, sample, dt); err != nil {
		return err
	}
	return r.db.MarkDeviceOnline(ctx, deviceID, dt)
}
