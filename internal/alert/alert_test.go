package alert_test

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"codeberg.org/mutker/bmsctl/internal/alert"
	"codeberg.org/mutker/bmsctl/internal/errors"
	"codeberg.org/mutker/bmsctl/internal/logger"
	"codeberg.org/mutker/bmsctl/internal/mqtt"
	"codeberg.org/mutker/bmsctl/internal/sensor"
	"codeberg.org/mutker/bmsctl/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
)

func hotSample() telemetry.Sample {
	return telemetry.Sample{
		Timestamp:      time.Date(2025, 6, 1, 14, 3, 9, 0, time.Local),
		BatteryVoltage: 3.92,
		LoadVoltage:    3.81,
		Current:        1.25,
		Power:          4.76,
		Temperature:    telemetry.Float(44.2),
		Status:         telemetry.StatusTemperatureAnomaly,
	}
}

func TestNewNotification(t *testing.T) {
	s := hotSample()
	n := alert.NewNotification(s, s.Summary())
	assert.Equal(t, "Anomaly detected: temperature anomaly", n.Message)
	assert.Equal(t, "warning", n.Level)
	assert.Equal(t, "14:03:09", n.Timestamp)
	assert.Equal(t, telemetry.StatusTemperatureAnomaly, n.Status)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := alert.NewLogSink(logger.New(&buf))

	s := telemetry.FailureSample(time.Now(), sensor.BatteryVoltage, sensor.LoadCurrent)
	require.NoError(t, sink.Notify(context.Background(), s, s.Summary()))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "Anomaly detected: sensor failure", entry["message"])
	assert.Equal(t, "sensor_failure", entry["status"])
	assert.Equal(t, []any{"battery_voltage", "current"}, entry["failed_channels"])
}

type fakePublisher struct {
	topic string
	v     any
	err   error
}

func (f *fakePublisher) PublishJSON(_ context.Context, topic string, v any, _ bool) error {
	f.topic, f.v = topic, v
	return f.err
}

func (f *fakePublisher) Topics() mqtt.Topics { return mqtt.Topics{Prefix: "bms"} }

func TestMQTTSink(t *testing.T) {
	pub := &fakePublisher{}
	sink := alert.NewMQTTSink(pub)
	s := hotSample()

	require.NoError(t, sink.Notify(context.Background(), s, s.Summary()))
	assert.Equal(t, "bms/alert", pub.topic)
	n, ok := pub.v.(alert.Notification)
	require.True(t, ok)
	assert.Equal(t, s.Summary(), n.Message)

	pub.err = stderrors.New("not connected")
	err := sink.Notify(context.Background(), s, s.Summary())
	require.Error(t, err)
	assert.Equal(t, alert.ErrMQTTFailed, errors.CodeOf(err))
}

func emailConfig() alert.EmailConfig {
	cfg := alert.DefaultEmailConfig()
	cfg.Enabled = true
	cfg.Username = "bms@example.com"
	cfg.Password = "secret"
	cfg.From = "bms@example.com"
	cfg.To = []string{"ops@example.com"}
	return cfg
}

func TestEmailSink(t *testing.T) {
	sink, err := alert.NewEmailSink(emailConfig())
	require.NoError(t, err)

	var sent *mail.Msg
	sink.SetSender(func(_ context.Context, m *mail.Msg) error {
		sent = m
		return nil
	})

	s := hotSample()
	require.NoError(t, sink.Notify(context.Background(), s, s.Summary()))
	require.NotNil(t, sent)

	from, err := sent.GetSender(false)
	require.NoError(t, err)
	assert.Equal(t, "bms@example.com", from)
	to, err := sent.GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"ops@example.com"}, to)

	var buf bytes.Buffer
	_, err = sent.WriteTo(&buf)
	require.NoError(t, err)
	body := buf.String()
	assert.Contains(t, body, "Subject: BMS Alert: temperature anomaly")
	assert.Contains(t, body, "Temperature: 44.2 °C")
	assert.Contains(t, body, "Battery Voltage: 3.92 V")
	assert.Contains(t, body, "Load Voltage: 3.81 V")
	assert.Contains(t, body, "Current: 1.250 A")
	assert.Contains(t, body, "Power: 4.76 W")
}

func TestEmailSinkErrors(t *testing.T) {
	sink, err := alert.NewEmailSink(emailConfig())
	require.NoError(t, err)

	sink.SetSender(func(context.Context, *mail.Msg) error {
		return stderrors.New("535 authentication failed")
	})
	err = sink.Notify(context.Background(), hotSample(), "x")
	require.Error(t, err)
	assert.Equal(t, alert.ErrEmailFailed, errors.CodeOf(err))
}

func TestEmailSinkHonoursContext(t *testing.T) {
	sink, err := alert.NewEmailSink(emailConfig())
	require.NoError(t, err)

	sink.SetSender(func(ctx context.Context, _ *mail.Msg) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = sink.Notify(ctx, hotSample(), "x")
	require.Error(t, err)
	assert.Equal(t, alert.ErrTimeout, errors.CodeOf(err))
	assert.Less(t, time.Since(start), time.Second, "the send returns once the deadline passes")
}

func TestEmailConfigValidate(t *testing.T) {
	cfg := emailConfig()
	cfg.To = nil
	_, err := alert.NewEmailSink(cfg)
	require.Error(t, err)
	assert.Equal(t, alert.ErrInvalidConfig, errors.CodeOf(err))
}
