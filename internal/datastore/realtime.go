package datastore

import (
	"context"
	"time"
)

// Sample holds the seven instantaneous/cumulative fields off a single wire payload.
type Sample struct {
	Voltage   float64
	Current   float64
	Power     float64
	Energy    float64
	Frequency float64
	PF        float64
}

// UpsertRealtime writes the single latest-sample row for device_id. Idempotent
// on repeated identical input: the row either doesn't exist or reflects the
// latest durably-processed sample.
func (db *DB) UpsertRealtime(ctx context.Context, deviceID int64, s Sample, dt time.Time) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO data_realtime (device_id, voltage, current, power, energy, frequency, pf, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (device_id) DO UPDATE SET
			voltage    = EXCLUDED.voltage,
			current    = EXCLUDED.current,
			power      = EXCLUDED.power,
			energy     = EXCLUDED.energy,
			frequency  = EXCLUDED.frequency,
			pf         = EXCLUDED.pf,
			updated_at = EXCLUDED.updated_at
	`, deviceID, s.Voltage, s.Current, s.Power, s.Energy, s.Frequency, s.PF, dt)
	return err
}
