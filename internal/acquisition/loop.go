// Package acquisition schedules acquisition cycles on a fixed period and
// hands each resulting Sample to the distribution stage.
package acquisition

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/bmsctl/internal/errors"
	"codeberg.org/mutker/bmsctl/internal/logger"
	"codeberg.org/mutker/bmsctl/internal/telemetry"
)

const (
	DefaultPeriod    = time.Second
	DefaultStopGrace = 2 * time.Second
)

// State of a Loop. Stopped is terminal.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Collector produces the Sample of one cycle.
type Collector interface {
	Collect(ctx context.Context, at time.Time) telemetry.Sample
}

// Publisher receives every completed Sample. Publish must not block.
type Publisher interface {
	Publish(s telemetry.Sample)
}

type Config struct {
	Period    time.Duration
	StopGrace time.Duration
}

func DefaultConfig() Config {
	return Config{
		Period:    DefaultPeriod,
		StopGrace: DefaultStopGrace,
	}
}

func (c Config) Validate() error {
	if c.Period <= 0 {
		return errors.New().WithData(ErrInvalidPeriod, c.Period.String())
	}
	return nil
}

// Stats are counters for diagnostics.
type Stats struct {
	State      State
	Cycles     uint64
	Skipped    uint64
	Panics     uint64
	LastSample telemetry.Sample
}

type Option func(*Loop)

// WithResources registers closers released when the loop stops, such as the
// I2C bus shared by the channels.
func WithResources(closers ...io.Closer) Option {
	return func(l *Loop) {
		l.resources = append(l.resources, closers...)
	}
}

func WithLogger(log logger.Logger) Option {
	return func(l *Loop) {
		l.log = log
	}
}

// WithClock replaces time.Now for sample timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		l.now = now
	}
}

// Loop runs at most one cycle at a time. Ticks that arrive while a cycle is
// still running are dropped by the ticker, never queued behind it.
type Loop struct {
	collector Collector
	publisher Publisher
	cfg       Config
	resources []io.Closer
	log       logger.Logger
	now       func() time.Time

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	release    sync.Once
	releaseErr error
	last       time.Time
	lastSample atomic.Pointer[telemetry.Sample]
	cycles     atomic.Uint64
	skipped    atomic.Uint64
	panics     atomic.Uint64
}

func New(collector Collector, publisher Publisher, cfg Config, opts ...Option) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}

	l := &Loop{
		collector: collector,
		publisher: publisher,
		cfg:       cfg,
		log:       logger.Default().With("acquisition"),
		now:       time.Now,
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start moves Idle to Running and begins cycling in the background. The loop
// also stops on its own when ctx is cancelled.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateIdle {
		return errors.New().WithData(ErrInvalidState, fmt.Sprintf("cannot start from %s", l.state))
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.state = StateRunning

	go l.run(ctx)

	l.log.Info().Dur("period", l.cfg.Period).Msg("Acquisition started")
	return nil
}

// Stop cancels the in-flight cycle and waits up to the grace period for the
// loop to exit. Stopping is terminal and idempotent.
func (l *Loop) Stop() error {
	l.mu.Lock()
	switch l.state {
	case StateStopped:
		l.mu.Unlock()
		return nil
	case StateIdle:
		l.state = StateStopped
		l.mu.Unlock()
		return l.releaseResources()
	}
	cancel, done := l.cancel, l.done
	l.state = StateStopped
	l.mu.Unlock()

	cancel()

	select {
	case <-done:
		return l.releaseErr
	case <-time.After(l.cfg.StopGrace):
		l.log.Warn().Dur("grace", l.cfg.StopGrace).Msg("Acquisition cycle did not finish in time")
		return errors.New().WithData(ErrStopTimeout, l.cfg.StopGrace.String())
	}
}

// Done is closed once the loop goroutine has exited and resources are
// released. It is nil before Start.
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

func (l *Loop) Stats() Stats {
	st := Stats{
		State:   l.State(),
		Cycles:  l.cycles.Load(),
		Skipped: l.skipped.Load(),
		Panics:  l.panics.Load(),
	}
	if s := l.lastSample.Load(); s != nil {
		st.LastSample = *s
	}
	return st
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	defer func() {
		_ = l.releaseResources()
	}()
	defer func() {
		l.mu.Lock()
		l.state = StateStopped
		l.mu.Unlock()
	}()

	ticker := time.NewTicker(l.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Info().Uint64("cycles", l.cycles.Load()).Msg("Acquisition stopped")
			return
		case <-ticker.C:
			start := time.Now()
			l.cycle(ctx)
			took := time.Since(start)
			if missed := skippedTicks(took, l.cfg.Period); missed > 0 {
				l.skipped.Add(missed)
				l.log.Warn().Uint64("skipped", missed).Dur("took", took).Msg("Slow cycle, skipping ticks")
			}
		}
	}
}

// skippedTicks counts the ticks lost while a cycle ran. The ticker keeps one
// tick buffered, so the first tick that fell inside the cycle still fires.
func skippedTicks(took, period time.Duration) uint64 {
	if n := took / period; n > 1 {
		return uint64(n - 1)
	}
	return 0
}

func (l *Loop) cycle(ctx context.Context) {
	at := l.stamp()
	sample := l.collect(ctx, at)

	// A cycle cut short by Stop is incomplete; nothing downstream sees it.
	if ctx.Err() != nil {
		return
	}

	l.cycles.Add(1)
	l.lastSample.Store(&sample)
	l.publisher.Publish(sample)
}

// collect turns a panic anywhere in the cycle into a SensorFailure sample.
func (l *Loop) collect(ctx context.Context, at time.Time) (sample telemetry.Sample) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.log.ErrorWithCode(errors.New().WithData(ErrCyclePanic, fmt.Sprint(r))).
				Time("at", at).
				Msg("Recovered from cycle panic")
			sample = telemetry.FailureSample(at)
		}
	}()

	return l.collector.Collect(ctx, at)
}

// stamp returns a timestamp strictly after the previous one, even when the
// wall clock stalls or steps backwards.
func (l *Loop) stamp() time.Time {
	now := l.now()
	if !now.After(l.last) {
		now = l.last.Add(time.Nanosecond)
	}
	l.last = now
	return now
}

func (l *Loop) releaseResources() error {
	l.release.Do(func() {
		var errs []error
		for _, c := range l.resources {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			l.releaseErr = errors.New().Wrap(ErrRelease, errors.Join(errs...))
			l.log.Error().Err(l.releaseErr).Msg("Failed to release resources")
		}
	})
	return l.releaseErr
}
