// Package ina219 reads load voltage and shunt current from a TI INA219.
package ina219

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"codeberg.org/mutker/bmsctl/internal/sensor"
	"github.com/reef-pi/rpi/i2c"
)

const (
	DefaultAddress   = 0x40
	DefaultShuntOhms = 0.1

	regConfig       = 0x00
	regShuntVoltage = 0x01
	regBusVoltage   = 0x02

	// 32V bus range, PGA /8 (320mV), 12-bit bus and shunt ADC, continuous
	configDefault uint16 = 0x399F

	busVoltageLSB   = 0.004 // V
	shuntVoltageLSB = 0.01  // mV
	busOverflowFlag = 0x0001

	// PGA /8 full scale in register counts (320mV / 10uV)
	shuntFullScale = 32000
)

// Device is one INA219 on an I2C bus. The bus is owned by the caller.
type Device struct {
	bus       i2c.Bus
	address   byte
	shuntOhms float64
	mu        sync.Mutex
}

// New returns a Device measuring across a shunt of shuntOhms.
func New(bus i2c.Bus, address byte, shuntOhms float64) (*Device, error) {
	if shuntOhms <= 0 {
		return nil, fmt.Errorf("ina219: shunt resistance must be positive, got %v", shuntOhms)
	}
	return &Device{bus: bus, address: address, shuntOhms: shuntOhms}, nil
}

// Configure writes the measurement configuration. It doubles as the startup
// reachability check.
func (d *Device) Configure() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, configDefault)
	if err := d.bus.WriteToReg(d.address, regConfig, buf); err != nil {
		return fmt.Errorf("ina219 at 0x%02x: %w", d.address, err)
	}
	return nil
}

func (d *Device) readReg(reg byte) (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := make([]byte, 2)
	if err := d.bus.ReadFromReg(d.address, reg, buf); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

// LoadVoltage returns the bus voltage channel.
func (d *Device) LoadVoltage() sensor.Channel {
	return &busChannel{dev: d}
}

// Current returns the shunt current channel. Values are reported in mA.
func (d *Device) Current() sensor.Channel {
	return &currentChannel{dev: d}
}

type busChannel struct {
	dev *Device
}

func (*busChannel) ID() sensor.ChannelID { return sensor.LoadVoltage }

func (c *busChannel) Read(ctx context.Context) (sensor.RawReading, error) {
	if err := ctx.Err(); err != nil {
		return sensor.RawReading{}, sensor.Timeout(sensor.LoadVoltage, err)
	}
	raw, err := c.dev.readReg(regBusVoltage)
	if err != nil {
		return sensor.RawReading{}, sensor.Unavailable(sensor.LoadVoltage, err)
	}
	if raw&busOverflowFlag != 0 {
		return sensor.RawReading{}, sensor.OutOfRange(sensor.LoadVoltage, "math overflow flag set")
	}

	volts := float64(raw>>3) * busVoltageLSB
	return sensor.Reading(sensor.LoadVoltage, volts, sensor.Volts), nil
}

type currentChannel struct {
	dev *Device
}

func (*currentChannel) ID() sensor.ChannelID { return sensor.LoadCurrent }

func (c *currentChannel) Read(ctx context.Context) (sensor.RawReading, error) {
	if err := ctx.Err(); err != nil {
		return sensor.RawReading{}, sensor.Timeout(sensor.LoadCurrent, err)
	}
	raw, err := c.dev.readReg(regShuntVoltage)
	if err != nil {
		return sensor.RawReading{}, sensor.Unavailable(sensor.LoadCurrent, err)
	}

	counts := int16(raw)
	if math.Abs(float64(counts)) >= shuntFullScale {
		return sensor.RawReading{}, sensor.OutOfRange(sensor.LoadCurrent, fmt.Sprintf("shunt count %d", counts))
	}

	shuntMilliVolts := float64(counts) * shuntVoltageLSB
	milliAmps := shuntMilliVolts / c.dev.shuntOhms
	return sensor.Reading(sensor.LoadCurrent, milliAmps, sensor.MilliAmps), nil
}
