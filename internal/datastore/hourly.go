package datastore

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
)

// HourlyAggregate is what the repository can tell the hourly processor
// about a completed hour: averages over its minute rows, and the
// consumption delta against the previous hour's terminal cumulative energy.
type HourlyAggregate struct {
	Averages    MinuteAverages
	EnergyDelta float64
	EnergyAfter float64
}

// ComputeHourlyFromMinute computes the averages and energy delta for the
// hour starting at hourStart, using an intentionally asymmetric window:
// the average spans [hourStart, hourStart+1h), while the delta reference
// is the previous hour's terminal energy (from its hourly row if
// present, else its earliest minute row).
//
// Returns ErrNotFound if there are no minute rows in the hour, or if no
// previous-hour energy reference can be established — in either case
// the hour is not computable and the caller should skip it, not fail.
func (db *DB) ComputeHourlyFromMinute(ctx context.Context, deviceID int64, hourStart time.Time) (HourlyAggregate, error) {
	hourEnd := hourStart.Add(time.Hour)
	prevHour := hourStart.Add(-time.Hour)

	var avg MinuteAverages
	var count int
	err := db.Pool.QueryRow(ctx, `
		SELECT
			COALESCE(AVG(voltage), 0), COALESCE(AVG(current), 0), COALESCE(AVG(power), 0),
			COALESCE(AVG(frequency), 0), COALESCE(AVG(pf), 0), COUNT(*)
		FROM data_minutely
		WHERE device_id = $1 AND datetime >= $2 AND datetime < $3
	`, deviceID, hourStart, hourEnd).Scan(&avg.Voltage, &avg.Current, &avg.Power, &avg.Frequency, &avg.PF, &count)
	if err != nil {
		return HourlyAggregate{}, err
	}
	if count == 0 {
		return HourlyAggregate{}, ErrNotFound
	}

	var energyBefore float64
	err = db.Pool.QueryRow(ctx, `
		SELECT energy FROM data_hourly WHERE device_id = $1 AND datetime = $2
	`, deviceID, prevHour).Scan(&energyBefore)
	if errors.Is(err, pgx.ErrNoRows) {
		err = db.Pool.QueryRow(ctx, `
			SELECT energy FROM data_minutely
			WHERE device_id = $1 AND datetime >= $2 AND datetime < $3
			ORDER BY datetime ASC LIMIT 1
		`, deviceID, prevHour, hourStart).Scan(&energyBefore)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return HourlyAggregate{}, ErrNotFound
	}
	if err != nil {
		return HourlyAggregate{}, err
	}

	var energyAfter float64
	err = db.Pool.QueryRow(ctx, `
		SELECT energy FROM data_minutely
		WHERE device_id = $1 AND datetime >= $2 AND datetime < $3
		ORDER BY datetime ASC LIMIT 1
	`, deviceID, hourStart, hourEnd).Scan(&energyAfter)
	if errors.Is(err, pgx.ErrNoRows) {
		return HourlyAggregate{}, ErrNotFound
	}
	if err != nil {
		return HourlyAggregate{}, err
	}

	delta := math.Round((energyAfter-energyBefore)*1000) / 1000
	return HourlyAggregate{Averages: avg, EnergyDelta: delta, EnergyAfter: energyAfter}, nil
}

// UpsertHourly writes one row per (device_id, insertion_mark). Idempotent,
// same upsert shape as UpsertMinute.
func (db *DB) UpsertHourly(ctx context.Context, deviceID int64, dt time.Time, avg MinuteAverages, energyLast, energyHour float64) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO data_hourly (device_id, datetime, voltage, current, power, energy, frequency, pf, energy_hour)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (device_id, datetime) DO UPDATE SET
			voltage     = EXCLUDED.voltage,
			current     = EXCLUDED.current,
			power       = EXCLUDED.power,
			energy      = EXCLUDED.energy,
			frequency   = EXCLUDED.frequency,
			pf          = EXCLUDED.pf,
			energy_hour = EXCLUDED.energy_hour
	`, deviceID, dt, avg.Voltage, avg.Current, avg.Power, energyLast, avg.Frequency, avg.PF, energyHour)
	return err
}
