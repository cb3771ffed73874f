package history

import (
	"database/sql"

	"codeberg.org/mutker/bmsctl/internal/errors"
	"codeberg.org/mutker/bmsctl/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS battery_data (
	       id              INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp       INTEGER NOT NULL CHECK (typeof(timestamp) = 'integer'),
	       battery_voltage REAL NOT NULL,
	       load_voltage    REAL NOT NULL,
	       current         REAL NOT NULL,
	       power           REAL NOT NULL,
	       temperature     REAL,
	       humidity        REAL,
	       status          TEXT NOT NULL CHECK (status IN
	           ('normal', 'temperature_anomaly', 'voltage_anomaly', 'sensor_failure')),
	       failed_channels TEXT NOT NULL DEFAULT ''
	   );
	   CREATE INDEX IF NOT EXISTS battery_data_timestamp ON battery_data (timestamp);`

	insertSampleSQL = `
    INSERT INTO battery_data (
        timestamp,
        battery_voltage, load_voltage, current, power,
        temperature, humidity,
        status, failed_channels
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectSamplesSQL = `
    SELECT timestamp,
        battery_voltage, load_voltage, current, power,
        temperature, humidity,
        status, failed_channels
    FROM battery_data`
)

// InitSchema creates the tables and records the current schema version.
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: "create_tables",
			Error: err.Error(),
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: "record_version",
			Error: err.Error(),
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the recorded schema version, or 0 for a fresh
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	return version, nil
}

func TableExists(db *sql.DB, name string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, name).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, name)
	}
	return exists, nil
}
