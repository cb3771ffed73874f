package sensor

import (
	"context"
	"time"
)

// ChannelID names one physical quantity sampled every cycle.
type ChannelID string

const (
	BatteryVoltage ChannelID = "battery_voltage"
	LoadVoltage    ChannelID = "load_voltage"
	LoadCurrent    ChannelID = "current"
	Temperature    ChannelID = "temperature"
	Humidity       ChannelID = "humidity"
)

// Required reports whether a cycle is unusable when this channel fails
// together with the other required ones.
func (id ChannelID) Required() bool {
	return id == BatteryVoltage || id == LoadCurrent
}

// Unit is the unit a driver reports its raw value in.
type Unit string

const (
	Counts    Unit = "counts"
	Volts     Unit = "V"
	MilliAmps Unit = "mA"
	Celsius   Unit = "C"
	Percent   Unit = "%"
)

// RawReading is one channel's unconverted measurement for one cycle.
type RawReading struct {
	Channel ChannelID
	Value   float64
	Unit    Unit
	At      time.Time
}

// Channel abstracts one transducer. Read is called at most once per cycle,
// never retries and keeps no state between cycles.
type Channel interface {
	ID() ChannelID
	Read(ctx context.Context) (RawReading, error)
}

// Reading builds a RawReading stamped with the current time.
func Reading(id ChannelID, value float64, unit Unit) RawReading {
	return RawReading{
		Channel: id,
		Value:   value,
		Unit:    unit,
		At:      time.Now(),
	}
}
