package history_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/bmsctl/internal/errors"
	"codeberg.org/mutker/bmsctl/internal/history"
	"codeberg.org/mutker/bmsctl/internal/logger"
	"codeberg.org/mutker/bmsctl/internal/sensor"
	"codeberg.org/mutker/bmsctl/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) history.Config {
	t.Helper()
	dir := t.TempDir()
	return history.Config{
		Enabled:         true,
		Path:            filepath.Join(dir, "data", "battery.db"),
		BackupDir:       filepath.Join(dir, "backups"),
		BackupOnMigrate: true,
	}
}

func openRepo(t *testing.T, cfg history.Config) *history.Repository {
	t.Helper()
	repo, err := history.NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func sampleAt(i int) telemetry.Sample {
	return telemetry.Sample{
		Timestamp:      epoch.Add(time.Duration(i) * time.Second),
		BatteryVoltage: 3.8 + float64(i)/100,
		LoadVoltage:    3.7,
		Current:        1.5,
		Power:          5.55,
		Temperature:    telemetry.Float(30 + float64(i)),
		Humidity:       telemetry.Float(45),
		Status:         telemetry.StatusNormal,
	}
}

func TestAppendAndQuery(t *testing.T) {
	repo := openRepo(t, testConfig(t))
	ctx := context.Background()

	for i := range 25 {
		require.NoError(t, repo.Append(ctx, sampleAt(i)))
	}

	latest, err := repo.Query(ctx, 20, true)
	require.NoError(t, err)
	require.Len(t, latest, 20)
	assert.True(t, latest[0].Timestamp.Equal(sampleAt(24).Timestamp))
	assert.True(t, latest[19].Timestamp.Equal(sampleAt(5).Timestamp))

	oldest, err := repo.Query(ctx, 3, false)
	require.NoError(t, err)
	require.Len(t, oldest, 3)
	assert.True(t, oldest[0].Timestamp.Equal(epoch))
	assert.InDelta(t, 3.8, oldest[0].BatteryVoltage, 1e-9)
	require.NotNil(t, oldest[0].Temperature)
	assert.InDelta(t, 30.0, *oldest[0].Temperature, 1e-9)

	all, err := repo.Query(ctx, 0, false)
	require.NoError(t, err)
	assert.Len(t, all, 25)
}

func TestAppendPreservesMissingReadings(t *testing.T) {
	repo := openRepo(t, testConfig(t))
	ctx := context.Background()

	s := telemetry.FailureSample(epoch, sensor.BatteryVoltage, sensor.LoadCurrent)
	require.NoError(t, repo.Append(ctx, s))

	got, err := repo.Query(ctx, 1, true)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, telemetry.StatusSensorFailure, got[0].Status)
	assert.Nil(t, got[0].Temperature)
	assert.Nil(t, got[0].Humidity)
	assert.Equal(t, []sensor.ChannelID{sensor.BatteryVoltage, sensor.LoadCurrent}, got[0].Failed)
}

func TestSubNanosecondOrderingSurvives(t *testing.T) {
	repo := openRepo(t, testConfig(t))
	ctx := context.Background()

	a := sampleAt(0)
	b := sampleAt(0)
	b.Timestamp = a.Timestamp.Add(time.Nanosecond)
	require.NoError(t, repo.Append(ctx, a))
	require.NoError(t, repo.Append(ctx, b))

	got, err := repo.Query(ctx, 2, false)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[1].Timestamp.After(got[0].Timestamp))
}

func TestReopenKeepsRows(t *testing.T) {
	cfg := testConfig(t)
	repo, err := history.NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, repo.Append(context.Background(), sampleAt(0)))
	require.NoError(t, repo.Close())

	reopened := openRepo(t, cfg)
	got, err := reopened.Query(context.Background(), 10, true)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSchemaMismatchBacksUp(t *testing.T) {
	cfg := testConfig(t)
	repo, err := history.NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, repo.Append(context.Background(), sampleAt(0)))
	require.NoError(t, repo.Close())

	db, err := sql.Open("sqlite3", cfg.Path)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE schema_versions SET version = 99`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	migrated := openRepo(t, cfg)
	got, err := migrated.Query(context.Background(), 10, true)
	require.NoError(t, err)
	assert.Empty(t, got, "schema is recreated on version mismatch")

	entries, err := os.ReadDir(cfg.BackupDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "battery_v99_")
}

func TestBatteryDataColumns(t *testing.T) {
	cfg := testConfig(t)
	repo, err := history.NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	db, err := sql.Open("sqlite3", cfg.Path)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query(`SELECT name FROM pragma_table_info('battery_data') ORDER BY cid`)
	require.NoError(t, err)
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		columns = append(columns, name)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{
		"id", "timestamp", "battery_voltage", "load_voltage", "current",
		"power", "temperature", "humidity", "status", "failed_channels",
	}, columns)
}

func TestClosedRepository(t *testing.T) {
	repo, err := history.NewRepository(testConfig(t), logger.Nop())
	require.NoError(t, err)
	require.NoError(t, repo.Close())
	require.NoError(t, repo.Close())

	err = repo.Append(context.Background(), sampleAt(0))
	require.Error(t, err)
	assert.Equal(t, history.ErrClosed, errors.CodeOf(err))
}

func TestOpenDisabled(t *testing.T) {
	store, err := history.Open(history.Config{Enabled: false}, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, store.Append(context.Background(), sampleAt(0)))
	got, err := store.Query(context.Background(), 20, true)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, store.Close())
}

func TestInvalidConfig(t *testing.T) {
	_, err := history.Open(history.Config{Enabled: true}, logger.Nop())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, history.ErrInvalidConfig))
}
