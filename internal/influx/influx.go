// Package influx mirrors live samples into an InfluxDB bucket.
package influx

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/bmsctl/internal/errors"
	"codeberg.org/mutker/bmsctl/internal/logger"
	"codeberg.org/mutker/bmsctl/internal/telemetry"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	defaultBatchSize      = 100
	defaultFlushInterval  = 10 * time.Second
	defaultMeasurement    = "battery"
	defaultConnectTimeout = 10 * time.Second
)

type Config struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	Token         string        `mapstructure:"token"`
	Org           string        `mapstructure:"org"`
	Bucket        string        `mapstructure:"bucket"`
	Measurement   string        `mapstructure:"measurement"`
	Device        string        `mapstructure:"device"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

func DefaultConfig() Config {
	return Config{
		Bucket:        "battery",
		Measurement:   defaultMeasurement,
		BatchSize:     defaultBatchSize,
		FlushInterval: defaultFlushInterval,
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	var missing []string
	if c.URL == "" {
		missing = append(missing, "url")
	}
	if c.Org == "" {
		missing = append(missing, "org")
	}
	if c.Bucket == "" {
		missing = append(missing, "bucket")
	}
	if len(missing) > 0 {
		return errors.New().WithData(ErrInvalidConfig, "influx: missing "+strings.Join(missing, ", "))
	}
	return nil
}

// pointWriter is the part of api.WriteAPI the subscriber uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Subscriber batches every sample into the bucket. Writes are asynchronous;
// failures surface on the client's error channel and are logged.
type Subscriber struct {
	client influxdb2.Client
	writer pointWriter
	cfg    Config
	log    logger.Logger
	failed atomic.Uint64
}

// Connect pings the server and returns a Subscriber writing to cfg.Bucket.
func Connect(ctx context.Context, cfg Config, log logger.Logger) (*Subscriber, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(cfg.BatchSize)).
			SetFlushInterval(uint(cfg.FlushInterval.Milliseconds())),
	)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, errors.New().Wrap(ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, errors.New().WithData(ErrConnectionFailed, "server not healthy")
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	s := newSubscriber(writeAPI, cfg, log)
	s.client = client

	go s.drainErrors(writeAPI.Errors())

	log.Info().
		Str("url", cfg.URL).
		Str("bucket", cfg.Bucket).
		Int("batch_size", cfg.BatchSize).
		Msg("InfluxDB mirror connected")

	return s, nil
}

func newSubscriber(w pointWriter, cfg Config, log logger.Logger) *Subscriber {
	if cfg.Measurement == "" {
		cfg.Measurement = defaultMeasurement
	}
	return &Subscriber{writer: w, cfg: cfg, log: log}
}

func (s *Subscriber) drainErrors(errs <-chan error) {
	for err := range errs {
		if n := s.failed.Add(1); n == 1 || n%60 == 0 {
			s.log.ErrorWithCode(errors.New().Wrap(ErrWriteFailed, err)).
				Uint64("failures", n).
				Msg("InfluxDB write failed")
		}
	}
}

// Push queues s in the write batch. It never blocks on the network.
func (s *Subscriber) Push(_ context.Context, sample telemetry.Sample) error {
	s.writer.WritePoint(NewPoint(s.cfg.Measurement, s.cfg.Device, sample))
	return nil
}

// Failures returns how many asynchronous writes the server rejected.
func (s *Subscriber) Failures() uint64 { return s.failed.Load() }

// Close flushes pending points and closes the client.
func (s *Subscriber) Close() error {
	s.writer.Flush()
	if s.client != nil {
		s.client.Close()
	}
	return nil
}

// NewPoint maps a sample onto one point. Missing optional readings are
// left out rather than written as zero.
func NewPoint(measurement, device string, s telemetry.Sample) *write.Point {
	tags := map[string]string{
		"status": s.Status.String(),
	}
	if device != "" {
		tags["device"] = device
	}

	fields := map[string]interface{}{
		"battery_voltage": s.BatteryVoltage,
		"load_voltage":    s.LoadVoltage,
		"current":         s.Current,
		"power":           s.Power,
		"anomalous":       s.Status.IsAnomalous(),
	}
	if s.Temperature != nil {
		fields["temperature"] = *s.Temperature
	}
	if s.Humidity != nil {
		fields["humidity"] = *s.Humidity
	}

	return write.NewPoint(measurement, tags, fields, s.Timestamp)
}
