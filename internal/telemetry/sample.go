package telemetry

import (
	"fmt"
	"strings"
	"time"

	"codeberg.org/mutker/bmsctl/internal/sensor"
)

// Status is the single classification label of a Sample.
type Status string

const (
	StatusNormal             Status = "normal"
	StatusTemperatureAnomaly Status = "temperature_anomaly"
	StatusVoltageAnomaly     Status = "voltage_anomaly"
	StatusSensorFailure      Status = "sensor_failure"
)

func (s Status) String() string { return string(s) }

// Words renders the status for humans, e.g. "temperature anomaly".
func (s Status) Words() string {
	return strings.ReplaceAll(string(s), "_", " ")
}

// IsAnomalous reports whether the status warrants an alert.
func (s Status) IsAnomalous() bool {
	return s != StatusNormal
}

// ParseStatus maps a stored label back to a Status.
func ParseStatus(v string) (Status, error) {
	switch s := Status(v); s {
	case StatusNormal, StatusTemperatureAnomaly, StatusVoltageAnomaly, StatusSensorFailure:
		return s, nil
	default:
		return "", fmt.Errorf("unknown status %q", v)
	}
}

// Sample is one classified telemetry record. It is built once per cycle and
// never modified afterwards; sinks receive deep copies made by Clone.
type Sample struct {
	Timestamp      time.Time          `json:"timestamp"`
	BatteryVoltage float64            `json:"battery_voltage"`
	LoadVoltage    float64            `json:"load_voltage"`
	Current        float64            `json:"current"`
	Power          float64            `json:"power"`
	Temperature    *float64           `json:"temperature"`
	Humidity       *float64           `json:"humidity"`
	Status         Status             `json:"status"`
	Failed         []sensor.ChannelID `json:"failed_channels,omitempty"`
}

// Clone returns a copy of s that shares no memory with it.
func (s Sample) Clone() Sample {
	if s.Temperature != nil {
		s.Temperature = Float(*s.Temperature)
	}
	if s.Humidity != nil {
		s.Humidity = Float(*s.Humidity)
	}
	if s.Failed != nil {
		s.Failed = append([]sensor.ChannelID(nil), s.Failed...)
	}
	return s
}

// HasTemperature reports whether the temperature channel answered.
func (s Sample) HasTemperature() bool { return s.Temperature != nil }

// HasHumidity reports whether the humidity channel answered.
func (s Sample) HasHumidity() bool { return s.Humidity != nil }

// FailureSample is the degraded record of a cycle that produced no usable
// readings at all.
func FailureSample(at time.Time, failed ...sensor.ChannelID) Sample {
	return Sample{
		Timestamp: at,
		Status:    StatusSensorFailure,
		Failed:    failed,
	}
}

// Float returns a pointer to a copy of v, for optional Sample fields.
func Float(v float64) *float64 {
	return &v
}

// Summary is the one line alert text for an anomalous sample.
func (s Sample) Summary() string {
	return "Anomaly detected: " + s.Status.Words()
}

// Detail renders every measured quantity, one per line.
func (s Sample) Detail() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Status: %s\n", s.Status.Words())
	fmt.Fprintf(&b, "Time: %s\n", s.Timestamp.Format(time.RFC3339))
	if s.Temperature != nil {
		fmt.Fprintf(&b, "Temperature: %.1f °C\n", *s.Temperature)
	} else {
		b.WriteString("Temperature: n/a\n")
	}
	if s.Humidity != nil {
		fmt.Fprintf(&b, "Humidity: %.1f %%\n", *s.Humidity)
	}
	fmt.Fprintf(&b, "Battery Voltage: %.2f V\n", s.BatteryVoltage)
	fmt.Fprintf(&b, "Load Voltage: %.2f V\n", s.LoadVoltage)
	fmt.Fprintf(&b, "Current: %.3f A\n", s.Current)
	fmt.Fprintf(&b, "Power: %.2f W\n", s.Power)
	if len(s.Failed) > 0 {
		names := make([]string, len(s.Failed))
		for i, id := range s.Failed {
			names[i] = string(id)
		}
		fmt.Fprintf(&b, "Failed channels: %s\n", strings.Join(names, ", "))
	}
	return b.String()
}
