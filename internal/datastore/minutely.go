package datastore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// MinuteAverages holds the arithmetic means of the five instantaneous fields.
type MinuteAverages struct {
	Voltage   float64
	Current   float64
	Power     float64
	Frequency float64
	PF        float64
}

// UpsertMinute writes one row per (device_id, minute_start). Idempotent:
// replaying the same minute's finalized aggregate is a no-op write.
func (db *DB) UpsertMinute(ctx context.Context, deviceID int64, minuteStart time.Time, avg MinuteAverages, energyLast, energyMinute float64) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO data_minutely (device_id, datetime, voltage, current, power, energy, frequency, pf, energy_minute)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (device_id, datetime) DO UPDATE SET
			voltage       = EXCLUDED.voltage,
			current       = EXCLUDED.current,
			power         = EXCLUDED.power,
			energy        = EXCLUDED.energy,
			frequency     = EXCLUDED.frequency,
			pf            = EXCLUDED.pf,
			energy_minute = EXCLUDED.energy_minute
	`, deviceID, minuteStart, avg.Voltage, avg.Current, avg.Power, energyLast, avg.Frequency, avg.PF, energyMinute)
	return err
}

// LastMinute is the most recent persisted minute row for a device.
type LastMinute struct {
	Datetime time.Time
	Energy   float64
}

// GetLastMinute returns the most recent (datetime, energy) pair, used to
// compute cross-minute energy deltas. Returns ErrNotFound if the device
// has no minute rows yet.
func (db *DB) GetLastMinute(ctx context.Context, deviceID int64) (LastMinute, error) {
	var lm LastMinute
	err := db.Pool.QueryRow(ctx, `
		SELECT datetime, energy
		FROM data_minutely
		WHERE device_id = $1
		ORDER BY datetime DESC
		LIMIT 1
	`, deviceID).Scan(&lm.Datetime, &lm.Energy)
	if errors.Is(err, pgx.ErrNoRows) {
		return LastMinute{}, ErrNotFound
	}
	if err != nil {
		return LastMinute{}, err
	}
	return lm, nil
}
