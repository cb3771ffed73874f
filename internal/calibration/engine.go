package calibration

import (
	"fmt"

	"codeberg.org/mutker/bmsctl/internal/errors"
	"codeberg.org/mutker/bmsctl/internal/sensor"
)

// Engine bundles the profiles of every channel. It is a value type and is
// safe to share between goroutines.
type Engine struct {
	battery       Profile
	current       CurrentSource
	clampNegative bool
}

// NewEngine validates the profiles and returns an Engine. Invalid constants
// are a configuration error.
func NewEngine(battery Profile, current CurrentSource, clampNegative bool) (Engine, error) {
	if err := validateADC("battery", battery); err != nil {
		return Engine{}, err
	}
	if battery.DividerRatio <= 0 {
		return Engine{}, invalid("battery.divider_ratio", battery.DividerRatio, "must be positive")
	}
	if battery.OutputMultiplier <= 0 {
		return Engine{}, invalid("battery.output_multiplier", battery.OutputMultiplier, "must be positive")
	}
	if current == nil {
		return Engine{}, invalid("current_source", nil, "missing")
	}
	if err := current.Validate(); err != nil {
		return Engine{}, err
	}

	return Engine{battery: battery, current: current, clampNegative: clampNegative}, nil
}

// CurrentSource returns the configured current conversion.
func (e Engine) CurrentSource() CurrentSource { return e.current }

func (e Engine) clip(v float64) float64 {
	if e.clampNegative {
		return Clamp(v)
	}
	return v
}

// BatteryVoltage converts a battery channel count to volts.
func (e Engine) BatteryVoltage(raw sensor.RawReading) float64 {
	return e.clip(BatteryVoltage(raw, e.battery))
}

// LoadVoltage passes through the device reported volts.
func (e Engine) LoadVoltage(raw sensor.RawReading) float64 {
	return e.clip(raw.Value)
}

// Current converts a current channel reading to amps.
func (e Engine) Current(raw sensor.RawReading) float64 {
	return e.clip(e.current.Amps(raw))
}

// Power derives load power from calibrated voltage and current.
func (e Engine) Power(voltage, current float64) float64 {
	return e.clip(Power(voltage, current))
}

// Temperature and Humidity arrive calibrated from the sensor. Sub-zero
// temperatures are real, so they are never clipped.
func (Engine) Temperature(raw sensor.RawReading) float64 { return raw.Value }

func (Engine) Humidity(raw sensor.RawReading) float64 { return raw.Value }

// FieldError describes one invalid calibration constant.
type FieldError struct {
	Field  string
	Value  any
	Reason string
}

func (f FieldError) String() string {
	return fmt.Sprintf("%s=%v: %s", f.Field, f.Value, f.Reason)
}

func invalid(field string, value any, reason string) errors.Error {
	return errors.New().WithData(errors.ErrInvalidConfig, FieldError{Field: field, Value: value, Reason: reason})
}

func validateADC(name string, p Profile) error {
	if p.MaxCount <= 0 {
		return invalid(name+".max_count", p.MaxCount, "must be positive")
	}
	if p.FullScaleVoltage <= 0 {
		return invalid(name+".full_scale_voltage", p.FullScaleVoltage, "must be positive")
	}
	return nil
}
