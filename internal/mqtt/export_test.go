package mqtt

import (
	"codeberg.org/mutker/bmsctl/internal/logger"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

type Conn interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

func NewWithConn(cn Conn, cfg Config, log logger.Logger) *Client {
	return newWithConn(cn, cfg, log)
}
