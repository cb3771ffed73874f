// Package calibration converts raw channel readings into physical units.
//
// Every conversion is a pure function of a RawReading and an immutable
// Profile. Profiles are loaded once at startup and shared without locking.
package calibration

import (
	"math"

	"codeberg.org/mutker/bmsctl/internal/sensor"
)

// Profile holds the constants of one ADC-backed channel. Fields that do not
// apply to a channel are ignored by its conversions.
type Profile struct {
	FullScaleVoltage float64 `mapstructure:"full_scale_voltage"`
	MaxCount         float64 `mapstructure:"max_count"`
	DividerRatio     float64 `mapstructure:"divider_ratio"`
	// OutputMultiplier scales the divided voltage up to battery terminal
	// voltage. The reference board needs 5.
	OutputMultiplier       float64 `mapstructure:"output_multiplier"`
	ZeroCurrentVoltage     float64 `mapstructure:"zero_current_voltage"`
	SensitivityVoltsPerAmp float64 `mapstructure:"sensitivity"`
	// MilliPerUnit converts a device's self-reported milli-unit value.
	MilliPerUnit float64 `mapstructure:"milli_per_unit"`
}

// DefaultBatteryProfile is the ADS1115 AIN0 battery divider at gain one.
func DefaultBatteryProfile() Profile {
	return Profile{
		FullScaleVoltage: 4.096,
		MaxCount:         32767,
		DividerRatio:     1.0,
		OutputMultiplier: 5.0,
	}
}

// DefaultCurrentProfile covers both the ACS712-30A on ADS1115 AIN1 and the
// INA219 milliamp register.
func DefaultCurrentProfile() Profile {
	return Profile{
		FullScaleVoltage:       4.096,
		MaxCount:               32767,
		ZeroCurrentVoltage:     2.47,
		SensitivityVoltsPerAmp: 0.06,
		MilliPerUnit:           1000,
	}
}

// SensorVoltage is the voltage at the ADC input for a raw count.
func SensorVoltage(raw sensor.RawReading, p Profile) float64 {
	return raw.Value / p.MaxCount * p.FullScaleVoltage
}

// BatteryVoltage converts an ADC count to battery terminal voltage.
func BatteryVoltage(raw sensor.RawReading, p Profile) float64 {
	return SensorVoltage(raw, p) * p.DividerRatio * p.OutputMultiplier
}

// Power is always non-negative; the sign of current only tells the flow
// direction.
func Power(voltage, current float64) float64 {
	return voltage * math.Abs(current)
}

// Clamp clips negative noise around zero load to exactly 0.0.
func Clamp(v float64) float64 {
	if v < 0 {
		return 0.0
	}
	return v
}
