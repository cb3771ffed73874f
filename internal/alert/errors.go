package alert

import "codeberg.org/mutker/bmsctl/internal/errors"

const (
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrEmailFailed   = errors.ErrorCode("alert_email_failed")
	ErrMQTTFailed    = errors.ErrorCode("alert_mqtt_failed")
	ErrTimeout       = errors.ErrorCode("alert_timeout")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrEmailFailed: "Failed to send alert email",
		ErrMQTTFailed:  "Failed to publish alert",
		ErrTimeout:     "Alert delivery timed out",
	})
}
