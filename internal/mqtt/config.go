package mqtt

import (
	"fmt"
	"time"

	"codeberg.org/mutker/bmsctl/internal/errors"
)

const (
	defaultBroker         = "tcp://localhost:1883"
	defaultClientID       = "bmsctl"
	defaultTopicPrefix    = "bmsctl"
	defaultQoS            = 1
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 500 * time.Millisecond
	defaultKeepAlive      = 60 * time.Second

	// milliseconds
	disconnectQuiesce = 1000

	maxQoS         = 2
	maxPayloadSize = 1 << 20
)

type Config struct {
	Enabled        bool          `mapstructure:"enabled"`
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	QoS            int           `mapstructure:"qos"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Broker:         defaultBroker,
		ClientID:       defaultClientID,
		TopicPrefix:    defaultTopicPrefix,
		QoS:            defaultQoS,
		PublishTimeout: defaultPublishTimeout,
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Broker == "" {
		return errors.New().WithData(ErrInvalidConfig, "mqtt.broker is required")
	}
	if c.TopicPrefix == "" {
		return errors.New().WithData(ErrInvalidConfig, "mqtt.topic_prefix is required")
	}
	if c.QoS < 0 || c.QoS > maxQoS {
		return errors.New().WithData(ErrInvalidConfig, fmt.Sprintf("mqtt.qos must be 0-2, got %d", c.QoS))
	}
	return nil
}
