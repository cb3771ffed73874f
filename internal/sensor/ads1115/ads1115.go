// Package ads1115 reads single-ended conversions from a TI ADS1115 ADC.
//
// The battery divider sits on one input and the ACS712 hall-effect current
// sensor output on another. Each input is exposed as its own sensor.Channel;
// conversions on one device are serialized.
package ads1115

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"codeberg.org/mutker/bmsctl/internal/sensor"
	"github.com/reef-pi/rpi/i2c"
)

const (
	DefaultAddress = 0x48

	regConversion = 0x00
	regConfig     = 0x01

	configOsSingle         uint16 = 0x8000
	configModeSingle       uint16 = 0x0100
	configGainOne          uint16 = 0x0200 // +/- 4.096V
	configDataRate860      uint16 = 0x00E0
	configComparatorQueueN uint16 = 0x0003

	// 860 SPS converts in ~1.2ms
	convTimeout  = 50 * time.Millisecond
	convPollWait = 200 * time.Microsecond

	maxCount = 32767
	minCount = -32768
)

var muxSingle = [4]uint16{0x4000, 0x5000, 0x6000, 0x7000}

// FullScaleVoltage is the PGA range the driver configures.
const FullScaleVoltage = 4.096

// Device is one ADS1115 on an I2C bus. The bus is owned by the caller.
type Device struct {
	bus     i2c.Bus
	address byte
	mu      sync.Mutex
}

// New returns a Device at address on bus.
func New(bus i2c.Bus, address byte) *Device {
	return &Device{bus: bus, address: address}
}

// Probe reads the config register once to confirm the chip answers.
func (d *Device) Probe() error {
	buf := make([]byte, 2)
	if err := d.bus.ReadFromReg(d.address, regConfig, buf); err != nil {
		return fmt.Errorf("ads1115 at 0x%02x: %w", d.address, err)
	}
	return nil
}

// Channel exposes analog input ain (0-3) as the sensor channel id.
func (d *Device) Channel(id sensor.ChannelID, ain int) (*Channel, error) {
	if ain < 0 || ain >= len(muxSingle) {
		return nil, fmt.Errorf("ads1115: no analog input %d", ain)
	}
	return &Channel{id: id, dev: d, mux: muxSingle[ain]}, nil
}

// convert runs one single-shot conversion and returns the signed count.
func (d *Device) convert(ctx context.Context, id sensor.ChannelID, mux uint16) (int16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	config := configOsSingle | mux | configGainOne | configModeSingle |
		configDataRate860 | configComparatorQueueN

	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, config)
	if err := d.bus.WriteToReg(d.address, regConfig, buf); err != nil {
		return 0, sensor.Unavailable(id, err)
	}

	deadline := time.Now().Add(convTimeout)
	status := make([]byte, 2)
	for {
		if err := d.bus.ReadFromReg(d.address, regConfig, status); err != nil {
			return 0, sensor.Unavailable(id, err)
		}
		if binary.BigEndian.Uint16(status)&configOsSingle != 0 {
			break
		}
		if time.Now().After(deadline) {
			return 0, sensor.Timeout(id, fmt.Errorf("conversion not ready after %v", convTimeout))
		}
		select {
		case <-ctx.Done():
			return 0, sensor.Timeout(id, ctx.Err())
		case <-time.After(convPollWait):
		}
	}

	result := make([]byte, 2)
	if err := d.bus.ReadFromReg(d.address, regConversion, result); err != nil {
		return 0, sensor.Unavailable(id, err)
	}

	return int16(binary.BigEndian.Uint16(result)), nil
}

// Channel is one analog input of a Device.
type Channel struct {
	id  sensor.ChannelID
	dev *Device
	mux uint16
}

func (c *Channel) ID() sensor.ChannelID { return c.id }

// Read returns the raw conversion count. A count pinned at either end of the
// range means the input is saturated.
func (c *Channel) Read(ctx context.Context) (sensor.RawReading, error) {
	count, err := c.dev.convert(ctx, c.id, c.mux)
	if err != nil {
		return sensor.RawReading{}, err
	}
	if count == maxCount || count == minCount {
		return sensor.RawReading{}, sensor.OutOfRange(c.id, fmt.Sprintf("count %d at full scale", count))
	}

	return sensor.Reading(c.id, float64(count), sensor.Counts), nil
}
