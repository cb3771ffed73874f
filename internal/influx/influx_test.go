package influx_test

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/bmsctl/internal/errors"
	"codeberg.org/mutker/bmsctl/internal/influx"
	"codeberg.org/mutker/bmsctl/internal/logger"
	"codeberg.org/mutker/bmsctl/internal/telemetry"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushed int
}

func (f *fakeWriter) WritePoint(p *write.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p)
}

func (f *fakeWriter) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed++
}

func fields(p *write.Point) map[string]any {
	out := map[string]any{}
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func tags(p *write.Point) map[string]string {
	out := map[string]string{}
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func TestNewPoint(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := telemetry.Sample{
		Timestamp:      at,
		BatteryVoltage: 3.85,
		LoadVoltage:    3.8,
		Current:        1.5,
		Power:          5.7,
		Temperature:    telemetry.Float(31.5),
		Status:         telemetry.StatusNormal,
	}

	p := influx.NewPoint("battery", "pack-1", s)
	assert.Equal(t, "battery", p.Name())
	assert.True(t, p.Time().Equal(at))
	assert.Equal(t, map[string]string{"status": "normal", "device": "pack-1"}, tags(p))

	f := fields(p)
	assert.InDelta(t, 3.85, f["battery_voltage"], 1e-9)
	assert.InDelta(t, 31.5, f["temperature"], 1e-9)
	assert.Equal(t, false, f["anomalous"])
	assert.NotContains(t, f, "humidity")
}

func TestSubscriberPushAndClose(t *testing.T) {
	w := &fakeWriter{}
	sub := influx.NewWithWriter(w, influx.Config{}, logger.Nop())

	for range 3 {
		require.NoError(t, sub.Push(context.Background(), telemetry.Sample{Status: telemetry.StatusVoltageAnomaly}))
	}
	require.NoError(t, sub.Close())

	assert.Len(t, w.points, 3)
	assert.Equal(t, "battery", w.points[0].Name())
	assert.Equal(t, 1, w.flushed)
}

func TestWriteErrorsAreCounted(t *testing.T) {
	sub := influx.NewWithWriter(&fakeWriter{}, influx.Config{}, logger.Nop())
	errs := make(chan error, 2)
	errs <- stderrors.New("401 unauthorized")
	errs <- stderrors.New("401 unauthorized")
	close(errs)

	sub.DrainErrors(errs)
	assert.Equal(t, uint64(2), sub.Failures())
}

func TestConfigValidate(t *testing.T) {
	cfg := influx.DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, influx.ErrInvalidConfig, errors.CodeOf(err))

	cfg.URL = "http://localhost:8086"
	cfg.Org = "home"
	assert.NoError(t, cfg.Validate())
}
