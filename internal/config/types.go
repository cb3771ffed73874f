package config

import (
	"fmt"
	"strings"

	"codeberg.org/mutker/bmsctl/internal/errors"
	"codeberg.org/mutker/bmsctl/internal/logger"
)

// LogLevel represents valid logging levels
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// IsValid returns whether the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}

// Level converts to the logger's level type.
func (l LogLevel) Level() logger.LogLevel {
	lvl, err := logger.ParseLevel(string(l))
	if err != nil {
		return logger.InfoLevel
	}
	return lvl
}

func (l LogLevel) String() string {
	return string(l)
}

// Mode selects which outer surfaces run next to persistence and alerts.
type Mode string

const (
	// ModeAlertOnly persists and alerts, logging to stdout.
	ModeAlertOnly Mode = "alert-only"
	// ModeInteractive adds the terminal dashboard.
	ModeInteractive Mode = "interactive"
	// ModeDashboard adds the HTTP and websocket server.
	ModeDashboard Mode = "dashboard"
)

func (m Mode) IsValid() bool {
	switch m {
	case ModeAlertOnly, ModeInteractive, ModeDashboard:
		return true
	default:
		return false
	}
}

// FieldError is one invalid configuration value.
type FieldError struct {
	Field  string
	Reason string
}

func (f FieldError) Error() string {
	return fmt.Sprintf("%s: %s", f.Field, f.Reason)
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, reason string) {
		errs = append(errs, FieldError{Field: field, Reason: reason})
	}

	if !c.LogLevel.IsValid() {
		errs = append(errs, errors.New().WithData(errors.ErrInvalidLogLevel, string(c.LogLevel)))
	}
	if !c.Mode.IsValid() {
		add("mode", fmt.Sprintf("unknown mode %q", c.Mode))
	}
	if c.Console && c.Mode == ModeInteractive {
		add("console", "cannot share the terminal with interactive mode")
	}
	if c.Mode == ModeDashboard && !c.HTTP.Enabled {
		add("http.enabled", "dashboard mode needs the HTTP server")
	}
	if c.PIDDir == "" {
		add("pid_dir", "is required")
	}

	if c.Acquisition.Period <= 0 {
		errs = append(errs, errors.New().WithData(errors.ErrInvalidInterval, c.Acquisition.Period.String()))
	}
	if c.Acquisition.ReadTimeout <= 0 {
		add("acquisition.read_timeout", "must be positive")
	} else if c.Acquisition.ReadTimeout >= c.Acquisition.Period && c.Acquisition.Period > 0 {
		add("acquisition.read_timeout", "must be shorter than acquisition.period")
	}

	if _, err := c.Calibration.Engine(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Thresholds.Validate(); err != nil {
		errs = append(errs, err)
	}

	if !c.Simulate {
		h := c.Hardware
		if h.ADS1115Address < 0x03 || h.ADS1115Address > 0x77 {
			add("hardware.ads1115_address", fmt.Sprintf("0x%02x is not a 7-bit address", h.ADS1115Address))
		}
		if h.INA219Address < 0x03 || h.INA219Address > 0x77 {
			add("hardware.ina219_address", fmt.Sprintf("0x%02x is not a 7-bit address", h.INA219Address))
		}
		if h.ShuntOhms <= 0 {
			add("hardware.shunt_ohms", "must be positive")
		}
		for field, ain := range map[string]int{"hardware.battery_ain": h.BatteryAIN, "hardware.current_ain": h.CurrentAIN} {
			if ain < 0 || ain > 3 {
				add(field, fmt.Sprintf("input %d does not exist", ain))
			}
		}
		if h.BatteryAIN == h.CurrentAIN {
			add("hardware.current_ain", "must differ from battery_ain")
		}
		if h.DHTDevice == "" {
			add("hardware.dht_device", "is required")
		}
	}

	for _, sub := range []interface{ Validate() error }{
		c.Storage, c.Alerts.Email, c.MQTT, c.Influx, c.HTTP,
	} {
		if err := sub.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Alerts.MQTT.Enabled && !c.MQTT.Enabled {
		add("alerts.mqtt.enabled", "requires mqtt.enabled")
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.New().WithData(errors.ErrInvalidConfig, joinMessages(errs))
}

func joinMessages(errs []error) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}
