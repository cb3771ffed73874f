// Package sim provides simulated sensor channels for running the pipeline
// without hardware attached.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"codeberg.org/mutker/bmsctl/internal/sensor"
)

// Spec describes one simulated channel.
type Spec struct {
	ID      sensor.ChannelID
	Unit    sensor.Unit
	Nominal float64
	Jitter  float64
	// FailRate is the probability in [0,1) that a read times out.
	FailRate float64
}

// Source shares one random generator between its channels.
type Source struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSource seeds a Source. A zero seed uses the current time.
func NewSource(seed int64) *Source {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Source{rng: rand.New(rand.NewSource(seed))}
}

func (s *Source) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// Channel builds a simulated channel from spec.
func (s *Source) Channel(spec Spec) sensor.Channel {
	return &channel{src: s, spec: spec}
}

// Defaults returns the channel set of the reference board: battery counts
// on the ADS1115, native INA219 load voltage and mA current, and a DHT22
// that misses roughly one read in ten.
func (s *Source) Defaults() []sensor.Channel {
	return []sensor.Channel{
		// 3.85V after the 4.096V/32767 scale and the 5x output multiplier
		s.Channel(Spec{ID: sensor.BatteryVoltage, Unit: sensor.Counts, Nominal: 6160, Jitter: 250}),
		s.Channel(Spec{ID: sensor.LoadVoltage, Unit: sensor.Volts, Nominal: 3.8, Jitter: 0.15}),
		s.Channel(Spec{ID: sensor.LoadCurrent, Unit: sensor.MilliAmps, Nominal: 1500, Jitter: 1000}),
		s.Channel(Spec{ID: sensor.Temperature, Unit: sensor.Celsius, Nominal: 32, Jitter: 8, FailRate: 0.1}),
		s.Channel(Spec{ID: sensor.Humidity, Unit: sensor.Percent, Nominal: 45, Jitter: 10, FailRate: 0.1}),
	}
}

type channel struct {
	src  *Source
	spec Spec
}

func (c *channel) ID() sensor.ChannelID { return c.spec.ID }

func (c *channel) Read(ctx context.Context) (sensor.RawReading, error) {
	if err := ctx.Err(); err != nil {
		return sensor.RawReading{}, sensor.Timeout(c.spec.ID, err)
	}
	if c.spec.FailRate > 0 && c.src.float() < c.spec.FailRate {
		return sensor.RawReading{}, sensor.Timeout(c.spec.ID, fmt.Errorf("simulated miss"))
	}

	value := c.spec.Nominal + (c.src.float()*2-1)*c.spec.Jitter
	return sensor.Reading(c.spec.ID, value, c.spec.Unit), nil
}
