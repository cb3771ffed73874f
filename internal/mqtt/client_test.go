package mqtt_test

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/bmsctl/internal/errors"
	"codeberg.org/mutker/bmsctl/internal/logger"
	"codeberg.org/mutker/bmsctl/internal/mqtt"
	"codeberg.org/mutker/bmsctl/internal/telemetry"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type token struct {
	done chan struct{}
	err  error
}

func doneToken(err error) *token {
	t := &token{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *token) Wait() bool { <-t.done; return true }

func (t *token) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *token) Done() <-chan struct{} { return t.done }
func (t *token) Error() error          { return t.err }

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeConn struct {
	mu           sync.Mutex
	connected    bool
	err          error
	hang         bool
	published    []message
	disconnected bool
}

func (f *fakeConn) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = p
	case string:
		b = []byte(p)
	}
	f.published = append(f.published, message{topic, qos, retained, b})
	if f.hang {
		return &token{done: make(chan struct{})}
	}
	return doneToken(f.err)
}

func (f *fakeConn) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConn) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
	f.connected = false
}

func (f *fakeConn) messages() []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message(nil), f.published...)
}

func testConfig() mqtt.Config {
	cfg := mqtt.DefaultConfig()
	cfg.Enabled = true
	cfg.TopicPrefix = "bms"
	cfg.PublishTimeout = 20 * time.Millisecond
	return cfg
}

func TestTopics(t *testing.T) {
	topics := mqtt.Topics{Prefix: "bms"}
	assert.Equal(t, "bms/battery/update", topics.Update())
	assert.Equal(t, "bms/alert", topics.Alert())
	assert.Equal(t, "bms/status", topics.Status())
}

func TestPublish(t *testing.T) {
	conn := &fakeConn{connected: true}
	c := mqtt.NewWithConn(conn, testConfig(), logger.Nop())

	require.NoError(t, c.Publish(context.Background(), "bms/alert", []byte("hi"), false))
	msgs := conn.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "bms/alert", msgs[0].topic)
	assert.Equal(t, byte(1), msgs[0].qos)
	assert.Equal(t, "hi", string(msgs[0].payload))
}

func TestPublishErrors(t *testing.T) {
	tests := []struct {
		name  string
		conn  *fakeConn
		topic string
		code  errors.ErrorCode
	}{
		{"empty topic", &fakeConn{connected: true}, "", mqtt.ErrInvalidTopic},
		{"disconnected", &fakeConn{}, "bms/alert", mqtt.ErrNotConnected},
		{"broker error", &fakeConn{connected: true, err: stderrors.New("nack")}, "bms/alert", mqtt.ErrPublishFailed},
		{"no ack", &fakeConn{connected: true, hang: true}, "bms/alert", mqtt.ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mqtt.NewWithConn(tt.conn, testConfig(), logger.Nop())
			err := c.Publish(context.Background(), tt.topic, []byte("x"), false)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
		})
	}
}

func TestSamplePublisher(t *testing.T) {
	conn := &fakeConn{connected: true}
	c := mqtt.NewWithConn(conn, testConfig(), logger.Nop())
	p := mqtt.NewSamplePublisher(c)

	s := telemetry.Sample{
		Timestamp:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		BatteryVoltage: 3.85,
		Temperature:    telemetry.Float(31.5),
		Status:         telemetry.StatusNormal,
	}
	require.NoError(t, p.Push(context.Background(), s))

	msgs := conn.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "bms/battery/update", msgs[0].topic)

	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].payload, &got))
	assert.InDelta(t, 3.85, got["battery_voltage"], 1e-9)
	assert.Equal(t, "normal", got["status"])
}

func TestSamplePublisherSurvivesOutage(t *testing.T) {
	conn := &fakeConn{}
	p := mqtt.NewSamplePublisher(mqtt.NewWithConn(conn, testConfig(), logger.Nop()))

	require.NoError(t, p.Push(context.Background(), telemetry.Sample{Status: telemetry.StatusNormal}))
	assert.Equal(t, uint64(1), p.Failures())
}

func TestClose(t *testing.T) {
	conn := &fakeConn{connected: true}
	c := mqtt.NewWithConn(conn, testConfig(), logger.Nop())
	require.NoError(t, c.Close())

	msgs := conn.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "bms/status", msgs[0].topic)
	assert.True(t, msgs[0].retained)
	assert.Contains(t, string(msgs[0].payload), `"status":"offline"`)
	assert.True(t, conn.disconnected)
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	cfg.QoS = 3
	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, mqtt.ErrInvalidConfig, errors.CodeOf(err))

	disabled := mqtt.Config{}
	assert.NoError(t, disabled.Validate())
}
