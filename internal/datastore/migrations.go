package datastore

import (
	"context"
	"fmt"
)

// migration defines a single idempotent schema migration, applied after
// InitSchema on every startup. Each must be safe to re-run (IF NOT EXISTS,
// IF EXISTS, etc.) since "check" only gates logging, not correctness.
type migration struct {
	name  string
	sql   string
	check string // query returning true if the migration is already applied
}

var migrations = []migration{
	{
		name:  "index devices for offline sweep",
		sql:   `CREATE INDEX IF NOT EXISTS idx_devices_active_last_online ON devices (last_online) WHERE is_active`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_devices_active_last_online')`,
	},
	{
		name:  "index minutely for hourly recompute",
		sql:   `CREATE INDEX IF NOT EXISTS idx_data_minutely_device_range ON data_minutely (device_id, datetime)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_data_minutely_device_range')`,
	},
}

// Migrate applies every migration not yet reflected in the database,
// in order. It is run on every startup, after InitSchema.
func (db *DB) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		var applied bool
		if err := db.Pool.QueryRow(ctx, m.check).Scan(&applied); err != nil {
			return fmt.Errorf("migration %q: check failed: %w", m.name, err)
		}
		if applied {
			continue
		}

		db.log.Info().Str("migration", m.name).Msg("applying schema migration")
		if _, err := db.Pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %q: %w", m.name, err)
		}
	}
	return nil
}
