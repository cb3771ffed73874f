// Package sensortest provides scripted sensor channels for tests.
package sensortest

import (
	"context"
	"sync"
	"sync/atomic"

	"codeberg.org/mutker/bmsctl/internal/sensor"
)

// Channel returns scripted readings. Set Err to fail every read, Block to
// wait for ctx, Panic to panic.
type Channel struct {
	Channel sensor.ChannelID
	Unit    sensor.Unit

	mu    sync.Mutex
	value float64
	err   error
	block bool
	panic bool

	reads atomic.Int64
}

func New(id sensor.ChannelID, unit sensor.Unit, value float64) *Channel {
	return &Channel{Channel: id, Unit: unit, value: value}
}

func (c *Channel) ID() sensor.ChannelID { return c.Channel }

func (c *Channel) Set(value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = value
	c.err = nil
}

func (c *Channel) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *Channel) Block(block bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block = block
}

func (c *Channel) Panic(p bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.panic = p
}

// Reads counts calls to Read.
func (c *Channel) Reads() int64 {
	return c.reads.Load()
}

func (c *Channel) Read(ctx context.Context) (sensor.RawReading, error) {
	c.reads.Add(1)

	c.mu.Lock()
	value, err, block, p := c.value, c.err, c.block, c.panic
	c.mu.Unlock()

	if p {
		panic("sensortest: scripted panic on " + string(c.Channel))
	}
	if block {
		<-ctx.Done()
		return sensor.RawReading{}, sensor.Timeout(c.Channel, ctx.Err())
	}
	if err != nil {
		return sensor.RawReading{}, err
	}
	return sensor.Reading(c.Channel, value, c.Unit), nil
}

// Board is the full reference channel set with healthy readings:
// 3.85V battery, 3.8V load, 1.5A, 25°C and 45%.
type Board struct {
	Battery     *Channel
	LoadVoltage *Channel
	Current     *Channel
	Temperature *Channel
	Humidity    *Channel
}

func NewBoard() *Board {
	return &Board{
		Battery:     New(sensor.BatteryVoltage, sensor.Counts, 6160),
		LoadVoltage: New(sensor.LoadVoltage, sensor.Volts, 3.8),
		Current:     New(sensor.LoadCurrent, sensor.MilliAmps, 1500),
		Temperature: New(sensor.Temperature, sensor.Celsius, 25),
		Humidity:    New(sensor.Humidity, sensor.Percent, 45),
	}
}

func (b *Board) Channels() []sensor.Channel {
	return []sensor.Channel{b.Battery, b.LoadVoltage, b.Current, b.Temperature, b.Humidity}
}
