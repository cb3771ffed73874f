package dashboard

import (
	"context"
	"testing"
	"time"

	"codeberg.org/mutker/bmsctl/internal/classify"
	"codeberg.org/mutker/bmsctl/internal/errors"
	"codeberg.org/mutker/bmsctl/internal/telemetry"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sized(m Model) Model {
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return next.(Model)
}

func TestFeedDeliversToModel(t *testing.T) {
	feed := NewFeed()
	m := sized(New(feed, classify.DefaultThresholds()))

	s := telemetry.Sample{
		Timestamp:      time.Now(),
		BatteryVoltage: 3.87,
		LoadVoltage:    3.79,
		Current:        1.234,
		Power:          4.68,
		Temperature:    telemetry.Float(31.2),
		Humidity:       telemetry.Float(44),
		Status:         telemetry.StatusNormal,
	}
	require.NoError(t, feed.Push(context.Background(), s))

	msg := m.Init()()
	next, cmd := m.Update(msg)
	m = next.(Model)
	require.NotNil(t, cmd, "model keeps listening after a sample")

	view := m.View()
	assert.Contains(t, view, "3.87 V")
	assert.Contains(t, view, "31.2 °C")
	assert.Contains(t, view, "1.234 A")
	assert.Contains(t, view, "NORMAL")
	assert.Contains(t, view, "1 samples")
}

func TestAnomaliesAreListed(t *testing.T) {
	m := sized(New(NewFeed(), classify.DefaultThresholds()))

	for i, st := range []telemetry.Status{
		telemetry.StatusNormal,
		telemetry.StatusVoltageAnomaly,
		telemetry.StatusSensorFailure,
	} {
		next, _ := m.Update(sampleMsg(telemetry.Sample{
			Timestamp: time.Now().Add(time.Duration(i) * time.Second),
			Status:    st,
		}))
		m = next.(Model)
	}

	require.Len(t, m.alerts, 2)
	view := m.View()
	assert.Contains(t, view, "VOLTAGE ANOMALY")
	assert.Contains(t, view, "SENSOR FAILURE")
	assert.Contains(t, view, "n/a", "missing temperature is shown as n/a")
}

func TestAlertsAreBounded(t *testing.T) {
	m := New(NewFeed(), classify.DefaultThresholds())
	for range alertLines + 3 {
		m.record(telemetry.Sample{Status: telemetry.StatusVoltageAnomaly})
	}
	assert.Len(t, m.alerts, alertLines)
}

func TestPauseFreezesDisplay(t *testing.T) {
	m := sized(New(NewFeed(), classify.DefaultThresholds()))
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	m = next.(Model)
	require.True(t, m.paused)

	next, cmd := m.Update(sampleMsg(telemetry.Sample{Status: telemetry.StatusNormal}))
	m = next.(Model)
	assert.Zero(t, m.received)
	assert.NotNil(t, cmd, "paused model still drains the feed")
	assert.Contains(t, m.View(), "PAUSED")
}

func TestQuit(t *testing.T) {
	m := New(NewFeed(), classify.DefaultThresholds())
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
}

func TestClosedFeed(t *testing.T) {
	feed := NewFeed()
	require.NoError(t, feed.Close())

	err := feed.Push(context.Background(), telemetry.Sample{})
	require.Error(t, err)
	assert.Equal(t, ErrFeedClosed, errors.CodeOf(err))

	m := New(feed, classify.DefaultThresholds())
	next, cmd := m.Update(m.Init()())
	assert.Nil(t, cmd)
	assert.True(t, next.(Model).ended)
}

func TestSparkline(t *testing.T) {
	assert.Empty(t, sparkline([]float64{1}, 0, 0, 1, [2]float64{0, 1}, colorOk, colorCrit))
	out := sparkline([]float64{3.5, 3.8, 4.2}, 10, 3.3, 4.4, [2]float64{3.6, 4.1}, colorOk, colorCrit)
	assert.NotEmpty(t, out)
}
