package datastore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("datastore: not found")

// Device identifies a meter by (owner username, device code).
type Device struct {
	ID         int64
	DeviceCode string
	UserID     int64
	Username   string
}

// ResolveDevice looks up a device by (username, device_code). Returns
// ErrNotFound if the user or device doesn't exist.
func (db *DB) ResolveDevice(ctx context.Context, username, deviceCode string) (Device, error) {
	var d Device
	err := db.Pool.QueryRow(ctx, `
		SELECT d.id, d.device_code, d.user_id, u.username
		FROM devices d
		JOIN users u ON u.id = d.user_id
		WHERE u.username = $1 AND d.device_code = $2
	`, username, deviceCode).Scan(&d.ID, &d.DeviceCode, &d.UserID, &d.Username)
	if errors.Is(err, pgx.ErrNoRows) {
		return Device{}, ErrNotFound
	}
	if err != nil {
		return Device{}, err
	}
	return d, nil
}

// MarkDeviceOnline sets last_online, recomputes up_time from created_at,
// and marks the device active.
func (db *DB) MarkDeviceOnline(ctx context.Context, deviceID int64, dt time.Time) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE devices
		SET last_online = $2,
		    up_time = GREATEST(EXTRACT(EPOCH FROM ($2 - created_at))::bigint, 0),
		    is_active = true
		WHERE id = $1
	`, deviceID, dt)
	return err
}

// SweepOffline marks active devices with no recent heartbeat as offline.
// Not scheduled by the worker itself; invoked by cmd/swm-sweep or the
// ops HTTP trigger on an external cadence.
func (db *DB) SweepOffline(ctx context.Context) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE devices
		SET is_active = false
		WHERE is_active
		  AND (last_online IS NULL OR last_online < now() - interval '20 seconds')
	`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DecrementTokenBalance floors token_balance at zero as consumption accrues.
func (db *DB) DecrementTokenBalance(ctx context.Context, deviceID int64, amount float64) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE devices
		SET token_balance = GREATEST(token_balance - $2::numeric, 0)
		WHERE id = $1
	`, deviceID, amount)
	return err
}
