// Package aggregator runs one acquisition cycle: it reads every sensor
// channel, calibrates what answered, classifies the result and returns a
// single Sample. A failing channel degrades the Sample but never the cycle.
package aggregator

import (
	"context"
	"fmt"
	"time"

	"codeberg.org/mutker/bmsctl/internal/calibration"
	"codeberg.org/mutker/bmsctl/internal/classify"
	"codeberg.org/mutker/bmsctl/internal/errors"
	"codeberg.org/mutker/bmsctl/internal/logger"
	"codeberg.org/mutker/bmsctl/internal/sensor"
	"codeberg.org/mutker/bmsctl/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

const DefaultReadTimeout = 500 * time.Millisecond

// Aggregator is safe for sequential use by one loop. Channels are read
// concurrently within a cycle.
type Aggregator struct {
	channels    []sensor.Channel
	engine      calibration.Engine
	thresholds  classify.Thresholds
	readTimeout time.Duration
	log         logger.Logger
}

type Option func(*Aggregator)

// WithReadTimeout bounds each channel read.
func WithReadTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.readTimeout = d
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		a.log = l
	}
}

// New checks that channel IDs are unique and that both required channels
// are present.
func New(channels []sensor.Channel, engine calibration.Engine, thresholds classify.Thresholds, opts ...Option) (*Aggregator, error) {
	errFactory := errors.New()

	seen := make(map[sensor.ChannelID]bool, len(channels))
	for _, ch := range channels {
		if seen[ch.ID()] {
			return nil, errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("duplicate channel %s", ch.ID()))
		}
		seen[ch.ID()] = true
	}
	for _, id := range []sensor.ChannelID{sensor.BatteryVoltage, sensor.LoadCurrent} {
		if !seen[id] {
			return nil, errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("required channel %s not configured", id))
		}
	}
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}

	a := &Aggregator{
		channels:    channels,
		engine:      engine,
		thresholds:  thresholds,
		readTimeout: DefaultReadTimeout,
		log:         logger.Default().With("aggregator"),
	}
	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

// Channels returns the channels read each cycle.
func (a *Aggregator) Channels() []sensor.Channel {
	return a.channels
}

type result struct {
	reading sensor.RawReading
	err     error
}

// Collect runs one cycle and returns its Sample stamped with at.
func (a *Aggregator) Collect(ctx context.Context, at time.Time) telemetry.Sample {
	results := make([]result, len(a.channels))

	// Each goroutine records its own outcome and returns nil, so one failing
	// channel never cancels the others.
	var g errgroup.Group
	for i, ch := range a.channels {
		g.Go(func() error {
			results[i] = a.read(ctx, ch)
			return nil
		})
	}
	_ = g.Wait()

	readings := make(map[sensor.ChannelID]sensor.RawReading, len(results))
	var failed []sensor.ChannelID
	for i, r := range results {
		id := a.channels[i].ID()
		if r.err != nil {
			failed = append(failed, id)
			a.log.Warn().
				Str("channel", string(id)).
				Str("kind", sensor.KindOf(r.err).String()).
				Err(r.err).
				Msg("Channel read failed")
			continue
		}
		readings[id] = r.reading
	}

	return a.assemble(at, readings, failed)
}

// assemble fills defaults for missing channels: 0.0 for electrical
// quantities, nil for the environment.
func (a *Aggregator) assemble(at time.Time, readings map[sensor.ChannelID]sensor.RawReading, failed []sensor.ChannelID) telemetry.Sample {
	s := telemetry.Sample{Timestamp: at, Failed: failed}

	if r, ok := readings[sensor.BatteryVoltage]; ok {
		s.BatteryVoltage = a.engine.BatteryVoltage(r)
	}
	if r, ok := readings[sensor.LoadVoltage]; ok {
		s.LoadVoltage = a.engine.LoadVoltage(r)
	}
	if r, ok := readings[sensor.LoadCurrent]; ok {
		s.Current = a.engine.Current(r)
	}
	if r, ok := readings[sensor.Temperature]; ok {
		s.Temperature = telemetry.Float(a.engine.Temperature(r))
	}
	if r, ok := readings[sensor.Humidity]; ok {
		s.Humidity = telemetry.Float(a.engine.Humidity(r))
	}
	s.Power = a.engine.Power(s.LoadVoltage, s.Current)

	s.Status = a.thresholds.Classify(s.BatteryVoltage, s.Temperature)

	_, haveBattery := readings[sensor.BatteryVoltage]
	_, haveCurrent := readings[sensor.LoadCurrent]
	if !haveBattery && !haveCurrent {
		s.Status = telemetry.StatusSensorFailure
	}

	return s
}

// read bounds one channel read by the read timeout. A channel that ignores
// its context is abandoned; its late result lands in a buffered channel.
func (a *Aggregator) read(ctx context.Context, ch sensor.Channel) result {
	ctx, cancel := context.WithTimeout(ctx, a.readTimeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: sensor.Unavailable(ch.ID(), fmt.Errorf("channel panic: %v", r))}
			}
		}()
		reading, err := ch.Read(ctx)
		done <- result{reading: reading, err: err}
	}()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		return result{err: sensor.Timeout(ch.ID(), ctx.Err())}
	}
}
