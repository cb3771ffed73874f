// Package fanout distributes every completed Sample to persistence, live
// subscribers and the alert sink without ever blocking the acquisition loop.
//
// Each destination is served by its own goroutine behind a bounded queue,
// and every alert sink gets its own. Publish only enqueues; a full queue
// drops the sample for persistence or for that one alert sink, and drops the
// subscriber itself for live delivery.
package fanout

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
	"github.com/google/uuid"
)

const (
	DefaultSubscriberBuffer = 16
	DefaultDeliveryTimeout  = time.Second
	DefaultStorageTimeout   = 2 * time.Second
	DefaultStorageQueue     = 64
	DefaultAlertQueue       = 16
	DefaultAlertTimeout     = 10 * time.Second
)

type Config struct {
	SubscriberBuffer int           `mapstructure:"subscriber_buffer"`
	DeliveryTimeout  time.Duration `mapstructure:"delivery_timeout"`
	StorageTimeout   time.Duration `mapstructure:"storage_timeout"`
	StorageQueue     int           `mapstructure:"storage_queue"`
	AlertQueue       int           `mapstructure:"alert_queue"`
	AlertTimeout     time.Duration `mapstructure:"alert_timeout"`
}

func DefaultConfig() Config {
	return Config{
		SubscriberBuffer: DefaultSubscriberBuffer,
		DeliveryTimeout:  DefaultDeliveryTimeout,
		StorageTimeout:   DefaultStorageTimeout,
		StorageQueue:     DefaultStorageQueue,
		AlertQueue:       DefaultAlertQueue,
		AlertTimeout:     DefaultAlertTimeout,
	}
}

// withDefaults fills zero fields so a partially populated Config still works.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = d.SubscriberBuffer
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = d.DeliveryTimeout
	}
	if c.StorageTimeout <= 0 {
		c.StorageTimeout = d.StorageTimeout
	}
	if c.StorageQueue <= 0 {
		c.StorageQueue = d.StorageQueue
	}
	if c.AlertQueue <= 0 {
		c.AlertQueue = d.AlertQueue
	}
	if c.AlertTimeout <= 0 {
		c.AlertTimeout = d.AlertTimeout
	}
	return c
}

// Handle identifies an attached subscriber.
type Handle string

// Stats are delivery counters for diagnostics.
type Stats struct {
	Published       uint64
	StoreFailures   uint64
	StoreDropped    uint64
	AlertsSent      uint64
	AlertFailures   uint64
	AlertsDropped   uint64
	SubscribersLost uint64
	Subscribers     int
}

type Option func(*Fanout)

// WithPersistence sets the sink every Sample is appended to.
func WithPersistence(p telemetry.Persistence) Option {
	return func(f *Fanout) {
		f.store = p
	}
}

// WithAlerts adds sinks notified once per anomalous Sample. Each sink is
// served independently, so a hung transport only delays itself.
func WithAlerts(sinks ...telemetry.AlertSink) Option {
	return func(f *Fanout) {
		for _, sink := range sinks {
			if sink != nil {
				f.alerts = append(f.alerts, &alertWorker{sink: sink})
			}
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(f *Fanout) {
		f.log = l
	}
}

type Fanout struct {
	cfg    Config
	store  telemetry.Persistence
	alerts []*alertWorker
	log    logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	storeQ chan telemetry.Sample

	mu     sync.RWMutex
	subs   map[Handle]*subscription
	closed bool

	workers    sync.WaitGroup
	subWorkers sync.WaitGroup

	published     atomic.Uint64
	storeFailures atomic.Uint64
	storeDropped  atomic.Uint64
	alertsSent    atomic.Uint64
	alertFailures atomic.Uint64
	alertsDropped atomic.Uint64
	subsLost      atomic.Uint64
}

// New starts the persistence and alert workers. Persistence and alerts may
// be left unset, in which case that destination is skipped.
func New(cfg Config, opts ...Option) *Fanout {
	ctx, cancel := context.WithCancel(context.Background())
	f := &Fanout{
		cfg:    cfg.withDefaults(),
		log:    logger.Default().With("fanout"),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[Handle]*subscription),
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.store != nil {
		f.storeQ = make(chan telemetry.Sample, f.cfg.StorageQueue)
		f.workers.Add(1)
		go f.persist()
	}
	for _, w := range f.alerts {
		w.queue = make(chan telemetry.Sample, f.cfg.AlertQueue)
		f.workers.Add(1)
		go f.alert(w)
	}

	return f
}

// Publish hands s to every destination and returns immediately. It is called
// from a single goroutine, which keeps per-destination order equal to
// publish order. Each destination receives its own copy of s.
func (f *Fanout) Publish(s telemetry.Sample) {
	f.mu.RLock()
	if f.closed {
		f.mu.RUnlock()
		return
	}

	if f.storeQ != nil {
		select {
		case f.storeQ <- s.Clone():
		default:
			f.storeDropped.Add(1)
			f.log.ErrorWithCode(errors.New().New(ErrQueueFull)).
				Time("sample", s.Timestamp).
				Msg("Storage queue full, sample not persisted")
		}
	}

	if s.Status.IsAnomalous() {
		for _, w := range f.alerts {
			select {
			case w.queue <- s.Clone():
			default:
				f.alertsDropped.Add(1)
				f.log.ErrorWithCode(errors.New().New(ErrQueueFull)).
					Str("status", s.Status.String()).
					Str("sink", w.name()).
					Msg("Alert queue full, alert not sent")
			}
		}
	}

	snapshot := make([]*subscription, 0, len(f.subs))
	for _, sub := range f.subs {
		snapshot = append(snapshot, sub)
	}
	f.mu.RUnlock()

	f.published.Add(1)

	for _, sub := range snapshot {
		select {
		case sub.queue <- s.Clone():
		default:
			f.drop(sub, errors.New().New(ErrQueueFull))
		}
	}
}

// Attach registers a live subscriber and starts its delivery goroutine.
func (f *Fanout) Attach(sub telemetry.Subscriber) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return "", errors.New().New(ErrClosed)
	}

	s := &subscription{
		handle: Handle(uuid.NewString()),
		sub:    sub,
		queue:  make(chan telemetry.Sample, f.cfg.SubscriberBuffer),
		done:   make(chan struct{}),
	}
	f.subs[s.handle] = s

	f.subWorkers.Add(1)
	go f.deliver(s)

	f.log.Debug().Str("subscriber", string(s.handle)).Int("subscribers", len(f.subs)).Msg("Subscriber attached")
	return s.handle, nil
}

// Detach removes a subscriber at its owner's request. The subscriber is not
// closed; its owner is already tearing it down.
func (f *Fanout) Detach(h Handle) error {
	f.mu.Lock()
	s, ok := f.subs[h]
	delete(f.subs, h)
	f.mu.Unlock()

	if !ok {
		return errors.New().WithData(ErrUnknownHandle, string(h))
	}
	s.stop()

	f.log.Debug().Str("subscriber", string(h)).Msg("Subscriber detached")
	return nil
}

// Subscribers returns the handles currently attached.
func (f *Fanout) Subscribers() []Handle {
	f.mu.RLock()
	defer f.mu.RUnlock()

	handles := make([]Handle, 0, len(f.subs))
	for h := range f.subs {
		handles = append(handles, h)
	}
	return handles
}

func (f *Fanout) Stats() Stats {
	f.mu.RLock()
	n := len(f.subs)
	f.mu.RUnlock()

	return Stats{
		Published:       f.published.Load(),
		StoreFailures:   f.storeFailures.Load(),
		StoreDropped:    f.storeDropped.Load(),
		AlertsSent:      f.alertsSent.Load(),
		AlertFailures:   f.alertFailures.Load(),
		AlertsDropped:   f.alertsDropped.Load(),
		SubscribersLost: f.subsLost.Load(),
		Subscribers:     n,
	}
}

// Close stops intake, lets persistence and alerts drain what is queued and
// detaches every subscriber. In-flight work is cancelled when ctx expires.
func (f *Fanout) Close(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	subs := f.subs
	f.subs = make(map[Handle]*subscription)
	if f.storeQ != nil {
		close(f.storeQ)
	}
	for _, w := range f.alerts {
		close(w.queue)
	}
	f.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}

	done := make(chan struct{})
	go func() {
		f.workers.Wait()
		f.subWorkers.Wait()
		close(done)
	}()

	defer f.cancel()
	select {
	case <-done:
		f.log.Debug().Msg("Fan-out drained")
		return nil
	case <-ctx.Done():
		return errors.New().Wrap(ErrCloseTimeout, ctx.Err())
	}
}

func (f *Fanout) persist() {
	defer f.workers.Done()

	for s := range f.storeQ {
		err := f.persistOne(s)

		if err != nil {
			f.storeFailures.Add(1)
			f.log.ErrorWithCode(errors.New().Wrap(ErrStorageDispatch, err)).
				Time("sample", s.Timestamp).
				Msg("Failed to persist sample")
		}
	}
}

// persistOne stores one sample. A panicking store counts as a failed append.
func (f *Fanout) persistOne(s telemetry.Sample) (err error) {
	ctx, cancel := context.WithTimeout(f.ctx, f.cfg.StorageTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = errors.New().WithData(ErrSinkPanic, fmt.Sprint(r))
		}
	}()
	return f.store.Append(ctx, s)
}

type alertWorker struct {
	sink  telemetry.AlertSink
	queue chan telemetry.Sample
}

func (w *alertWorker) name() string {
	return fmt.Sprintf("%T", w.sink)
}

func (f *Fanout) alert(w *alertWorker) {
	defer f.workers.Done()

	for s := range w.queue {
		if err := f.notify(w, s); err != nil {
			f.alertFailures.Add(1)
			f.log.ErrorWithCode(errors.New().Wrap(ErrAlertDispatch, err)).
				Str("status", s.Status.String()).
				Str("sink", w.name()).
				Msg("Failed to deliver alert")
			continue
		}
		f.alertsSent.Add(1)
	}
}

// notify sends one alert. A panicking sink counts as a failed delivery.
func (f *Fanout) notify(w *alertWorker, s telemetry.Sample) (err error) {
	ctx, cancel := context.WithTimeout(f.ctx, f.cfg.AlertTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = errors.New().WithData(ErrSinkPanic, fmt.Sprint(r))
		}
	}()
	return w.sink.Notify(ctx, s, s.Summary())
}

// drop detaches a subscriber that failed or fell behind and closes it if it
// can be closed.
func (f *Fanout) drop(s *subscription, reason error) {
	f.mu.Lock()
	_, attached := f.subs[s.handle]
	delete(f.subs, s.handle)
	f.mu.Unlock()

	if !attached {
		return
	}
	s.stop()
	f.subsLost.Add(1)

	f.log.Warn().
		Str("subscriber", string(s.handle)).
		Str("error_code", string(errors.CodeOf(reason))).
		Err(reason).
		Msg("Dropping subscriber")

	if c, ok := s.sub.(io.Closer); ok {
		go func() {
			if err := c.Close(); err != nil {
				f.log.Debug().Err(err).Str("subscriber", string(s.handle)).Msg("Failed to close dropped subscriber")
			}
		}()
	}
}

type subscription struct {
	handle Handle
	sub    telemetry.Subscriber
	queue  chan telemetry.Sample
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (f *Fanout) deliver(s *subscription) {
	defer f.subWorkers.Done()

	for {
		select {
		case <-s.done:
			return
		case sample := <-s.queue:
			if err := f.push(s, sample); err != nil {
				f.drop(s, err)
				return
			}
		}
	}
}

// push bounds one delivery by the delivery timeout. The call runs on its own
// goroutine so a subscriber that ignores its context still cannot hold up
// the worker past the deadline.
func (f *Fanout) push(s *subscription, sample telemetry.Sample) error {
	ctx, cancel := context.WithTimeout(f.ctx, f.cfg.DeliveryTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- errors.New().WithData(ErrSubscriberPanic, fmt.Sprint(r))
			}
		}()
		result <- s.sub.Push(ctx, sample)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return errors.New().Wrap(ErrDeliveryTimeout, ctx.Err())
	}
}
