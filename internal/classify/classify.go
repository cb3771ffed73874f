// Package classify assigns a status label to a calibrated sample.
package classify

import (
	"fmt"

	"codeberg.org/mutker/bmsctl/internal/errors"
	"codeberg.org/mutker/bmsctl/internal/telemetry"
)

const (
	DefaultTempHigh    = 40.0
	DefaultVoltageLow  = 3.6
	DefaultVoltageHigh = 4.1
)

// Thresholds are the fixed safety limits. Temperature in °C, voltages in V.
type Thresholds struct {
	TempHigh    float64 `mapstructure:"temp_high"`
	VoltageLow  float64 `mapstructure:"voltage_low"`
	VoltageHigh float64 `mapstructure:"voltage_high"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		TempHigh:    DefaultTempHigh,
		VoltageLow:  DefaultVoltageLow,
		VoltageHigh: DefaultVoltageHigh,
	}
}

func (t Thresholds) Validate() error {
	if t.VoltageLow >= t.VoltageHigh {
		return errors.New().WithData(errors.ErrInvalidConfig,
			fmt.Sprintf("voltage_low %.2f must be below voltage_high %.2f", t.VoltageLow, t.VoltageHigh))
	}
	return nil
}

// Classify checks temperature first, so a hot battery reports a temperature
// anomaly even when its voltage is also out of band. A missing temperature
// skips straight to the voltage check.
func (t Thresholds) Classify(batteryVoltage float64, temperature *float64) telemetry.Status {
	if temperature != nil && *temperature > t.TempHigh {
		return telemetry.StatusTemperatureAnomaly
	}
	if batteryVoltage < t.VoltageLow || batteryVoltage > t.VoltageHigh {
		return telemetry.StatusVoltageAnomaly
	}
	return telemetry.StatusNormal
}
