// Package history keeps every published Sample in a local SQLite database and
// serves the most recent ones back to the HTTP API and the console.
package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/bmsctl/internal/errors"
	"codeberg.org/mutker/bmsctl/internal/logger"
	"codeberg.org/mutker/bmsctl/internal/sensor"
	"codeberg.org/mutker/bmsctl/internal/telemetry"
	_ "github.com/mattn/go-sqlite3"
)

// Store is a Persistence that owns an underlying resource.
type Store interface {
	telemetry.Persistence
	Close() error
}

// Open returns the SQLite store, or a no-op store when history is disabled.
func Open(cfg Config, log logger.Logger) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.New().Wrap(ErrInvalidConfig, err)
	}
	if !cfg.Enabled {
		log.Debug().Msg("History disabled, using no-op store")
		return noopStore{}, nil
	}
	return NewRepository(cfg, log)
}

type Repository struct {
	db  *sql.DB
	log logger.Logger
	cfg Config

	mu     sync.Mutex
	closed bool
	insert *sql.Stmt
}

func NewRepository(cfg Config, log logger.Logger) (*Repository, error) {
	errFactory := errors.New()

	if cfg.Path == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.Path,
			Error: err.Error(),
		})
	}

	dsn := cfg.Path + "?_journal=WAL&_auto_vacuum=2&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}
	// Appends and queries share one connection.
	db.SetMaxOpenConns(1)

	if err := ValidateAndUpdateSchema(db, cfg, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	insert, err := db.Prepare(insertSampleSQL)
	if err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	log.Info().
		Str("path", cfg.Path).
		Int("schema_version", SchemaVersion).
		Msg("History repository initialized")

	return &Repository{
		db:     db,
		log:    log,
		cfg:    cfg,
		insert: insert,
	}, nil
}

// Append stores s as the newest row. Calls are serialized.
func (r *Repository) Append(ctx context.Context, s telemetry.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New().New(ErrClosed)
	}

	_, err := r.insert.ExecContext(ctx,
		s.Timestamp.UnixNano(),
		s.BatteryVoltage, s.LoadVoltage, s.Current, s.Power,
		nullable(s.Temperature), nullable(s.Humidity),
		string(s.Status), joinChannels(s.Failed),
	)
	if err != nil {
		return errors.New().Wrap(ErrAppend, err)
	}

	r.log.Debug().Time("timestamp", s.Timestamp).Str("status", s.Status.String()).Msg("Sample stored")
	return nil
}

// Query returns up to limit samples, newest first or oldest first. A limit of
// zero or less returns everything.
func (r *Repository) Query(ctx context.Context, limit int, newestFirst bool) ([]telemetry.Sample, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, errors.New().New(ErrClosed)
	}

	query := selectSamplesSQL
	if newestFirst {
		query += " ORDER BY id DESC"
	} else {
		query += " ORDER BY id ASC"
	}
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.New().Wrap(ErrQuery, err)
	}
	defer rows.Close()

	samples := make([]telemetry.Sample, 0, max(limit, 0))
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, errors.New().Wrap(ErrQuery, err)
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New().Wrap(ErrQuery, err)
	}

	return samples, nil
}

func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	r.insert.Close()

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		r.db.Close()
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.log.Info().Msg("History repository closed gracefully")
	return nil
}

func scanSample(rows *sql.Rows) (telemetry.Sample, error) {
	var (
		s           telemetry.Sample
		ts          int64
		temperature sql.NullFloat64
		humidity    sql.NullFloat64
		status      string
		failed      string
	)
	if err := rows.Scan(&ts,
		&s.BatteryVoltage, &s.LoadVoltage, &s.Current, &s.Power,
		&temperature, &humidity,
		&status, &failed,
	); err != nil {
		return s, err
	}

	st, err := telemetry.ParseStatus(status)
	if err != nil {
		return s, err
	}

	s.Timestamp = time.Unix(0, ts).UTC()
	s.Status = st
	if temperature.Valid {
		s.Temperature = telemetry.Float(temperature.Float64)
	}
	if humidity.Valid {
		s.Humidity = telemetry.Float(humidity.Float64)
	}
	s.Failed = splitChannels(failed)

	return s, nil
}

func nullable(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func joinChannels(ids []sensor.ChannelID) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = string(id)
	}
	return strings.Join(names, ",")
}

func splitChannels(v string) []sensor.ChannelID {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	ids := make([]sensor.ChannelID, len(parts))
	for i, p := range parts {
		ids[i] = sensor.ChannelID(p)
	}
	return ids
}

type noopStore struct{}

func (noopStore) Append(context.Context, telemetry.Sample) error { return nil }

func (noopStore) Query(context.Context, int, bool) ([]telemetry.Sample, error) {
	return nil, nil
}

func (noopStore) Close() error { return nil }
