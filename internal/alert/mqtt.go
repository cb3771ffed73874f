package alert

import (
	"context"

	"codeberg.org/mutker/bmsctl/internal/errors"
	"codeberg.org/mutker/bmsctl/internal/mqtt"
	"codeberg.org/mutker/bmsctl/internal/telemetry"
)

type jsonPublisher interface {
	PublishJSON(ctx context.Context, topic string, v any, retained bool) error
	Topics() mqtt.Topics
}

// MQTTSink publishes alerts to the broker's alert topic.
type MQTTSink struct {
	pub jsonPublisher
}

func NewMQTTSink(pub jsonPublisher) *MQTTSink {
	return &MQTTSink{pub: pub}
}

func (m *MQTTSink) Notify(ctx context.Context, s telemetry.Sample, message string) error {
	if err := m.pub.PublishJSON(ctx, m.pub.Topics().Alert(), NewNotification(s, message), false); err != nil {
		return errors.New().Wrap(ErrMQTTFailed, err)
	}
	return nil
}
