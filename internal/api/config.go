package api

import (
	"fmt"
	"time"

	"codeberg.org/mutker/bmsctl/internal/errors"
)

const (
	defaultListen       = ":5000"
	defaultRecentLimit  = 20
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
	maxQueryLimit       = 10000
)

type Config struct {
	Enabled      bool          `mapstructure:"enabled"`
	Listen       string        `mapstructure:"listen"`
	RecentLimit  int           `mapstructure:"recent_limit"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Listen:       defaultListen,
		RecentLimit:  defaultRecentLimit,
		PingInterval: defaultPingInterval,
		WriteTimeout: defaultWriteTimeout,
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Listen == "" {
		return errors.New().WithData(ErrInvalidConfig, "http.listen is required")
	}
	if c.RecentLimit <= 0 || c.RecentLimit > maxQueryLimit {
		return errors.New().WithData(ErrInvalidConfig,
			fmt.Sprintf("http.recent_limit must be 1-%d, got %d", maxQueryLimit, c.RecentLimit))
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RecentLimit <= 0 {
		c.RecentLimit = d.RecentLimit
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	return c
}
