package calibration

import (
	"fmt"

	"codeberg.org/mutker/bmsctl/internal/sensor"
)

// CurrentSource converts a load current reading to amps.
type CurrentSource interface {
	Amps(raw sensor.RawReading) float64
	Name() string
	Validate() error
}

// Derived applies a hall-effect transducer law to an ADC count:
// (sensor voltage - zero current voltage) / sensitivity.
type Derived struct {
	Profile Profile
}

func (d Derived) Amps(raw sensor.RawReading) float64 {
	return (SensorVoltage(raw, d.Profile) - d.Profile.ZeroCurrentVoltage) / d.Profile.SensitivityVoltsPerAmp
}

func (Derived) Name() string { return "derived" }

func (d Derived) Validate() error {
	if err := validateADC("current", d.Profile); err != nil {
		return err
	}
	if d.Profile.SensitivityVoltsPerAmp == 0 {
		return invalid("current.sensitivity", d.Profile.SensitivityVoltsPerAmp, "must be non-zero")
	}
	return nil
}

// Native scales a current the device already measured in milli-units.
type Native struct {
	Profile Profile
}

func (n Native) Amps(raw sensor.RawReading) float64 {
	return raw.Value / n.Profile.MilliPerUnit
}

func (Native) Name() string { return "native" }

func (n Native) Validate() error {
	if n.Profile.MilliPerUnit <= 0 {
		return invalid("current.milli_per_unit", n.Profile.MilliPerUnit, "must be positive")
	}
	return nil
}

// NewCurrentSource picks the variant named by kind.
func NewCurrentSource(kind string, p Profile) (CurrentSource, error) {
	switch kind {
	case "derived":
		return Derived{Profile: p}, nil
	case "native", "":
		return Native{Profile: p}, nil
	default:
		return nil, invalid("current_source", kind, fmt.Sprintf("unknown current source %q", kind))
	}
}
