package main

import (
	"io"

	"codeberg.org/mutker/bmsctl/internal/config"
	"codeberg.org/mutker/bmsctl/internal/errors"
	"codeberg.org/mutker/bmsctl/internal/logger"
	"codeberg.org/mutker/bmsctl/internal/sensor"
	"codeberg.org/mutker/bmsctl/internal/sensor/ads1115"
	"codeberg.org/mutker/bmsctl/internal/sensor/dht"
	"codeberg.org/mutker/bmsctl/internal/sensor/ina219"
	"codeberg.org/mutker/bmsctl/internal/sensor/sim"
	"github.com/reef-pi/rpi/i2c"
)

// openChannels builds the channel set and returns the resources the
// acquisition loop must release on stop.
func openChannels(cfg *config.Config, log logger.Logger) ([]sensor.Channel, []io.Closer, error) {
	if cfg.Simulate {
		log.Info().Msg("Using simulated sensor channels")
		return sim.NewSource(0).Defaults(), nil, nil
	}

	errFactory := errors.New()
	hw := cfg.Hardware

	bus, err := i2c.New()
	if err != nil {
		return nil, nil, errFactory.Wrap(errors.ErrInitChannels, err)
	}
	fail := func(err error) ([]sensor.Channel, []io.Closer, error) {
		_ = bus.Close()
		return nil, nil, errFactory.Wrap(errors.ErrInitChannels, err)
	}

	adc := ads1115.New(bus, byte(hw.ADS1115Address))
	if err := adc.Probe(); err != nil {
		return fail(err)
	}
	battery, err := adc.Channel(sensor.BatteryVoltage, hw.BatteryAIN)
	if err != nil {
		return fail(err)
	}

	ina, err := ina219.New(bus, byte(hw.INA219Address), hw.ShuntOhms)
	if err != nil {
		return fail(err)
	}
	if err := ina.Configure(); err != nil {
		return fail(err)
	}

	channels := []sensor.Channel{battery, ina.LoadVoltage()}

	// The derived source reads the ACS712 on the ADC; native uses the INA219 shunt.
	if cfg.Calibration.CurrentSource == "derived" {
		current, err := adc.Channel(sensor.LoadCurrent, hw.CurrentAIN)
		if err != nil {
			return fail(err)
		}
		channels = append(channels, current)
	} else {
		channels = append(channels, ina.Current())
	}

	// DHT22 is optional; a missing driver only loses the climate readings.
	if err := dht.Probe(hw.DHTDevice); err != nil {
		log.Warn().Err(err).Str("device", hw.DHTDevice).Msg("DHT22 not found, temperature and humidity disabled")
	} else {
		channels = append(channels, dht.Temperature(hw.DHTDevice), dht.Humidity(hw.DHTDevice))
	}

	log.Info().
		Int("channels", len(channels)).
		Str("current_source", cfg.Calibration.CurrentSource).
		Msg("Sensor channels ready")

	return channels, []io.Closer{bus}, nil
}
