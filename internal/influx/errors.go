package influx

import "codeberg.org/mutker/bmsctl/internal/errors"

const (
	ErrInvalidConfig    = errors.ErrInvalidConfig
	ErrConnectionFailed = errors.ErrorCode("influx_connection_failed")
	ErrWriteFailed      = errors.ErrorCode("influx_write_failed")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrConnectionFailed: "Failed to connect to InfluxDB",
		ErrWriteFailed:      "Failed to write points to InfluxDB",
	})
}
