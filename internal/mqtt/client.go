// Package mqtt publishes live samples and alerts to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codeberg.org/mutker/bmsctl/internal/errors"
	"codeberg.org/mutker/bmsctl/internal/logger"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// conn is the part of pahomqtt.Client the wrapper uses.
type conn interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

type Client struct {
	conn   conn
	cfg    Config
	topics Topics
	log    logger.Logger
}

// Connect dials the broker and announces the client as online. The client
// reconnects on its own after the initial connection succeeds.
func Connect(cfg Config, log logger.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	topics := Topics{Prefix: cfg.TopicPrefix}
	opts := buildClientOptions(cfg, topics)

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})

	pc := pahomqtt.NewClient(opts)
	token := pc.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, errors.New().WithData(ErrConnectionFailed,
			fmt.Sprintf("timeout after %v", defaultConnectTimeout))
	}
	if err := token.Error(); err != nil {
		return nil, errors.New().Wrap(ErrConnectionFailed, err)
	}

	c := newWithConn(pc, cfg, log)
	c.conn.Publish(topics.Status(), byte(cfg.QoS), true, statusPayload(cfg.ClientID, "online"))

	return c, nil
}

func newWithConn(cn conn, cfg Config, log logger.Logger) *Client {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	return &Client{
		conn:   cn,
		cfg:    cfg,
		topics: Topics{Prefix: cfg.TopicPrefix},
		log:    log,
	}
}

func buildClientOptions(cfg Config, topics Topics) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetWill(topics.Status(), statusPayload(cfg.ClientID, "offline"), byte(cfg.QoS), true)

	return opts
}

func statusPayload(clientID, status string) string {
	return fmt.Sprintf(`{"status":%q,"client_id":%q,"timestamp":%q}`,
		status, clientID, time.Now().UTC().Format(time.RFC3339))
}

func (c *Client) Topics() Topics { return c.topics }

func (c *Client) IsConnected() bool { return c.conn.IsConnected() }

// Publish sends payload with the configured QoS and waits for the broker
// acknowledgement, bounded by ctx and the publish timeout.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	errFactory := errors.New()

	if topic == "" {
		return errFactory.New(ErrInvalidTopic)
	}
	if len(payload) > maxPayloadSize {
		return errFactory.WithData(ErrPayloadTooLarge, len(payload))
	}
	if !c.conn.IsConnected() {
		return errFactory.New(ErrNotConnected)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.PublishTimeout)
	defer cancel()

	token := c.conn.Publish(topic, byte(c.cfg.QoS), retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return errFactory.Wrap(ErrPublishFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return errFactory.Wrap(ErrPublishFailed, err)
	}

	return nil
}

// PublishJSON encodes v and publishes it.
func (c *Client) PublishJSON(ctx context.Context, topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.New().Wrap(ErrEncode, err)
	}
	return c.Publish(ctx, topic, payload, retained)
}

// Close announces a graceful offline status and disconnects.
func (c *Client) Close() error {
	if c.conn.IsConnected() {
		token := c.conn.Publish(c.topics.Status(), byte(c.cfg.QoS), true, statusPayload(c.cfg.ClientID, "offline"))
		token.WaitTimeout(c.cfg.PublishTimeout)
	}
	c.conn.Disconnect(disconnectQuiesce)
	c.log.Debug().Msg("MQTT client closed")
	return nil
}
