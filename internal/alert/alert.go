// Package alert delivers one notification per anomalous sample to the
// configured transports.
package alert

import (
	"context"
	"time"

	"codeberg.org/mutker/bmsctl/internal/logger"
	"codeberg.org/mutker/bmsctl/internal/telemetry"
)

const LevelWarning = "warning"

// Notification is the wire form of an alert shared by the MQTT and
// websocket transports.
type Notification struct {
	Message   string           `json:"message"`
	Level     string           `json:"level"`
	Timestamp string           `json:"timestamp"`
	Status    telemetry.Status `json:"status"`
	Sample    telemetry.Sample `json:"sample"`
}

// NewNotification stamps the alert with the sample's local wall-clock time.
func NewNotification(s telemetry.Sample, message string) Notification {
	return Notification{
		Message:   message,
		Level:     LevelWarning,
		Timestamp: s.Timestamp.Local().Format(time.TimeOnly),
		Status:    s.Status,
		Sample:    s,
	}
}

// LogSink writes alerts to the log. It is always part of the alert chain.
type LogSink struct {
	log logger.Logger
}

func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (l *LogSink) Notify(_ context.Context, s telemetry.Sample, message string) error {
	ev := l.log.Warn().
		Str("status", s.Status.String()).
		Time("timestamp", s.Timestamp).
		Float64("battery_voltage", s.BatteryVoltage).
		Float64("load_voltage", s.LoadVoltage).
		Float64("current", s.Current).
		Float64("power", s.Power)
	if s.Temperature != nil {
		ev = ev.Float64("temperature", *s.Temperature)
	}
	if len(s.Failed) > 0 {
		names := make([]string, len(s.Failed))
		for i, id := range s.Failed {
			names[i] = string(id)
		}
		ev = ev.Strs("failed_channels", names)
	}
	ev.Msg(message)
	return nil
}
