package mqtt

import "codeberg.org/mutker/bmsctl/internal/errors"

const (
	ErrInvalidConfig    = errors.ErrInvalidConfig
	ErrConnectionFailed = errors.ErrorCode("mqtt_connection_failed")
	ErrNotConnected     = errors.ErrorCode("mqtt_not_connected")
	ErrPublishFailed    = errors.ErrorCode("mqtt_publish_failed")
	ErrInvalidTopic     = errors.ErrorCode("mqtt_invalid_topic")
	ErrPayloadTooLarge  = errors.ErrorCode("mqtt_payload_too_large")
	ErrEncode           = errors.ErrorCode("mqtt_encode_failed")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrConnectionFailed: "Failed to connect to MQTT broker",
		ErrNotConnected:     "MQTT client is not connected",
		ErrPublishFailed:    "Failed to publish MQTT message",
		ErrInvalidTopic:     "MQTT topic cannot be empty",
		ErrPayloadTooLarge:  "MQTT payload exceeds the maximum size",
		ErrEncode:           "Failed to encode MQTT payload",
	})
}
