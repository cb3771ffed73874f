// Package dht reads a DHT22 through the kernel dht11 IIO driver, which
// exposes temperature and relative humidity as milli-unit sysfs attributes.
package dht

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/bmsctl/internal/errors"
	"codeberg.org/mutker/bmsctl/internal/sensor"
)

const (
	DefaultDevice = "/sys/bus/iio/devices/iio:device0"

	tempAttr     = "in_temp_input"
	humidityAttr = "in_humidityrelative_input"

	// DHT22 datasheet operating range
	minTemperature = -40.0
	maxTemperature = 80.0
	minHumidity    = 0.0
	maxHumidity    = 100.0
)

type channel struct {
	id       sensor.ChannelID
	path     string
	unit     sensor.Unit
	min, max float64
}

// Temperature returns the temperature channel of the IIO device at dir.
func Temperature(dir string) sensor.Channel {
	return &channel{
		id:   sensor.Temperature,
		path: filepath.Join(dir, tempAttr),
		unit: sensor.Celsius,
		min:  minTemperature,
		max:  maxTemperature,
	}
}

// Humidity returns the relative humidity channel of the IIO device at dir.
func Humidity(dir string) sensor.Channel {
	return &channel{
		id:   sensor.Humidity,
		path: filepath.Join(dir, humidityAttr),
		unit: sensor.Percent,
		min:  minHumidity,
		max:  maxHumidity,
	}
}

// Probe checks that the IIO device directory exists.
func Probe(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

func (c *channel) ID() sensor.ChannelID { return c.id }

// Read parses one attribute. The driver answers ETIMEDOUT or EIO when the
// sensor misses its response window, which is common for the DHT22.
func (c *channel) Read(ctx context.Context) (sensor.RawReading, error) {
	if err := ctx.Err(); err != nil {
		return sensor.RawReading{}, sensor.Timeout(c.id, err)
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, syscall.ETIMEDOUT) || errors.Is(err, syscall.EIO) {
			return sensor.RawReading{}, sensor.Timeout(c.id, err)
		}
		return sensor.RawReading{}, sensor.Unavailable(c.id, err)
	}

	milli, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return sensor.RawReading{}, sensor.Unavailable(c.id, err)
	}

	value := float64(milli) / 1000
	if value < c.min || value > c.max {
		return sensor.RawReading{}, sensor.OutOfRange(c.id, fmt.Sprintf("%.1f%s outside sensor range", value, c.unit))
	}

	return sensor.Reading(c.id, value, c.unit), nil
}
