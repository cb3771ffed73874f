package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"codeberg.org/mutker/bmsctl/internal/acquisition"
	"codeberg.org/mutker/bmsctl/internal/aggregator"
	"codeberg.org/mutker/bmsctl/internal/alert"
	"codeberg.org/mutker/bmsctl/internal/api"
	"codeberg.org/mutker/bmsctl/internal/config"
	"codeberg.org/mutker/bmsctl/internal/console"
	"codeberg.org/mutker/bmsctl/internal/dashboard"
	"codeberg.org/mutker/bmsctl/internal/errors"
	"codeberg.org/mutker/bmsctl/internal/fanout"
	"codeberg.org/mutker/bmsctl/internal/history"
	"codeberg.org/mutker/bmsctl/internal/influx"
	"codeberg.org/mutker/bmsctl/internal/logger"
	"codeberg.org/mutker/bmsctl/internal/mqtt"
	"codeberg.org/mutker/bmsctl/internal/pid"
	"codeberg.org/mutker/bmsctl/internal/telemetry"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

type app struct {
	cfg *config.Config
	log logger.Logger

	pidFile *pid.File
	logFile *os.File
	store   history.Store
	fan     *fanout.Fanout
	loop    *acquisition.Loop
	server  *api.Server
	mqtt    *mqtt.Client
	influx  *influx.Subscriber
	feed    *dashboard.Feed
	console *console.Console
	hub     hubAlerts
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	a := &app{cfg: cfg}
	err = a.run(ctx, cancel)
	a.cleanup()
	if err != nil {
		logger.Error().Err(err).Msg("bmsctl stopped with an error")
		if cfg.Mode == config.ModeInteractive {
			fmt.Fprintf(os.Stderr, "bmsctl: %v\n", err)
		}
		os.Exit(1)
	}
}

func (a *app) run(ctx context.Context, cancel context.CancelFunc) error {
	cfg := a.cfg

	a.initLogging()
	a.log = logger.Default().With("main")
	a.log.Debug().Str("file", cfg.File).Str("mode", string(cfg.Mode)).Msg("Config loaded")

	pidFile, err := pid.Write(cfg.PIDDir)
	if err != nil {
		return err
	}
	a.pidFile = pidFile

	engine, err := cfg.Calibration.Engine()
	if err != nil {
		return err
	}

	channels, resources, err := openChannels(cfg, logger.Default().With("sensor"))
	if err != nil {
		return err
	}

	agg, err := aggregator.New(channels, engine, cfg.Thresholds,
		aggregator.WithReadTimeout(cfg.Acquisition.ReadTimeout))
	if err != nil {
		closeAll(resources)
		return err
	}

	store, err := history.Open(cfg.Storage, logger.Default().With("history"))
	if err != nil {
		closeAll(resources)
		return err
	}
	a.store = store

	a.connectMQTT()

	opts := []fanout.Option{fanout.WithPersistence(store)}
	if cfg.Alerts.Enabled {
		opts = append(opts, fanout.WithAlerts(a.alertSinks()...))
	}
	a.fan = fanout.New(cfg.Fanout, opts...)

	if err := a.attachSubscribers(ctx); err != nil {
		closeAll(resources)
		return err
	}

	loop, err := acquisition.New(agg, a.fan, cfg.Acquisition.Loop(), acquisition.WithResources(resources...))
	if err != nil {
		closeAll(resources)
		return err
	}
	a.loop = loop

	if cfg.Mode == config.ModeDashboard {
		a.server = api.New(cfg.HTTP, store, a.fan, logger.Default().With("api"))
		a.hub.set(a.server.Hub())
		if err := a.server.Start(); err != nil {
			return err
		}
	}

	if err := loop.Start(ctx); err != nil {
		return err
	}
	a.log.Info().
		Str("mode", string(cfg.Mode)).
		Dur("period", cfg.Acquisition.Period).
		Bool("simulate", cfg.Simulate).
		Msg("Monitoring battery")

	if cfg.Console {
		a.console = console.New(console.Deps{History: store, Loop: loop, Fanout: a.fan})
		a.attachConsoleLogger()
		go func() {
			if err := a.console.Run(ctx, cancel); err != nil {
				a.log.Error().Err(err).Msg("Console stopped")
			}
		}()
	}

	if cfg.Mode == config.ModeInteractive {
		err := dashboard.Run(ctx, a.feed, cfg.Thresholds)
		cancel()
		return err
	}

	select {
	case <-ctx.Done():
	case <-loop.Done():
	}
	return nil
}

// initLogging sends logs to stdout, except in interactive mode where the
// dashboard owns the terminal and logs go to a file next to the PID file.
func (a *app) initLogging() {
	level := a.cfg.LogLevel.Level()

	if a.cfg.Mode != config.ModeInteractive {
		logger.Init(level, logger.IsService())
		return
	}

	path := filepath.Join(a.cfg.PIDDir, "bmsctl.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		logger.InitWriter(io.Discard, level)
		return
	}
	a.logFile = f
	logger.InitWriter(f, level)
}

// attachConsoleLogger reroutes human readable logs through the console so
// they do not clobber the prompt.
func (a *app) attachConsoleLogger() {
	out := zerolog.ConsoleWriter{Out: a.console.Writer(), TimeFormat: time.Kitchen}
	logger.InitWriter(out, a.cfg.LogLevel.Level())
}

func (a *app) connectMQTT() {
	if !a.cfg.MQTT.Enabled {
		return
	}
	client, err := mqtt.Connect(a.cfg.MQTT, logger.Default().With("mqtt"))
	if err != nil {
		// Broker outages are not fatal.
		a.log.Warn().Err(err).Str("broker", a.cfg.MQTT.Broker).Msg("MQTT disabled for this run")
		return
	}
	a.mqtt = client
}

func (a *app) alertSinks() []telemetry.AlertSink {
	sinks := []telemetry.AlertSink{alert.NewLogSink(logger.Default().With("alert"))}

	if a.cfg.Alerts.Email.Enabled {
		email, err := alert.NewEmailSink(a.cfg.Alerts.Email)
		if err != nil {
			a.log.Warn().Err(err).Msg("Email alerts disabled")
		} else {
			sinks = append(sinks, email)
		}
	}
	if a.cfg.Alerts.MQTT.Enabled && a.mqtt != nil {
		sinks = append(sinks, alert.NewMQTTSink(a.mqtt))
	}
	if a.cfg.Mode == config.ModeDashboard {
		sinks = append(sinks, &a.hub)
	}

	return sinks
}

func (a *app) attachSubscribers(ctx context.Context) error {
	if a.mqtt != nil {
		if _, err := a.fan.Attach(mqtt.NewSamplePublisher(a.mqtt)); err != nil {
			return err
		}
	}

	if a.cfg.Influx.Enabled {
		sub, err := influx.Connect(ctx, a.cfg.Influx, logger.Default().With("influx"))
		if err != nil {
			a.log.Warn().Err(err).Str("url", a.cfg.Influx.URL).Msg("InfluxDB mirror disabled for this run")
		} else {
			a.influx = sub
			if _, err := a.fan.Attach(sub); err != nil {
				return err
			}
		}
	}

	if a.cfg.Mode == config.ModeInteractive {
		a.feed = dashboard.NewFeed()
		if _, err := a.fan.Attach(a.feed); err != nil {
			return err
		}
	}

	return nil
}

// cleanup stops the pipeline front to back so queued samples still reach
// the store before it closes.
func (a *app) cleanup() {
	log := a.log
	if log == nil {
		log = logger.Default()
	}

	if a.loop != nil {
		if err := a.loop.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to stop acquisition")
		}
	}

	if a.fan != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.fan.Close(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to drain fan-out")
		}
		cancel()
		st := a.fan.Stats()
		log.Info().
			Uint64("published", st.Published).
			Uint64("store_failures", st.StoreFailures).
			Uint64("alerts_sent", st.AlertsSent).
			Msg("Fan-out closed")
	}

	if a.server != nil {
		if err := a.server.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to stop HTTP server")
		}
	}
	if a.feed != nil {
		_ = a.feed.Close()
	}
	if a.influx != nil {
		if err := a.influx.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to flush InfluxDB writes")
		}
	}
	if a.mqtt != nil {
		if err := a.mqtt.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to disconnect from MQTT")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.ErrorWithCode(errors.New().Wrap(history.ErrStorageClose, err)).Msg("Failed to close history")
		}
	}
	if a.pidFile != nil {
		if err := a.pidFile.Remove(); err != nil {
			log.Error().Err(err).Msg("Failed to remove PID file")
		}
	}

	log.Info().Msg("Exiting...")
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}

// hubAlerts forwards notifications to the websocket hub once the HTTP server
// exists. The fan-out is built first because the server reads from it.
type hubAlerts struct {
	hub atomic.Pointer[api.Hub]
}

func (h *hubAlerts) set(hub *api.Hub) { h.hub.Store(hub) }

func (h *hubAlerts) Notify(ctx context.Context, s telemetry.Sample, message string) error {
	if hub := h.hub.Load(); hub != nil {
		return hub.Notify(ctx, s, message)
	}
	return nil
}
