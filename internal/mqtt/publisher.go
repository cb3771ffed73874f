package mqtt

import (
	"context"
	"sync/atomic"

	"codeberg.org/mutker/bmsctl/internal/errors"
	"codeberg.org/mutker/bmsctl/internal/telemetry"
)

// SamplePublisher is a live subscriber that mirrors every sample to the
// update topic.
//
// Broker outages are logged and counted rather than returned, so a
// reconnecting broker does not get the publisher detached for good.
type SamplePublisher struct {
	client *Client
	failed atomic.Uint64
}

func NewSamplePublisher(c *Client) *SamplePublisher {
	return &SamplePublisher{client: c}
}

func (p *SamplePublisher) Push(ctx context.Context, s telemetry.Sample) error {
	err := p.client.PublishJSON(ctx, p.client.Topics().Update(), s, false)
	if err == nil {
		return nil
	}
	if errors.HasCode(err, ErrEncode) {
		return err
	}

	if n := p.failed.Add(1); n == 1 || n%60 == 0 {
		p.client.log.Warn().
			Str("error_code", string(errors.CodeOf(err))).
			Err(err).
			Uint64("failures", n).
			Msg("Failed to publish sample")
	}
	return nil
}

// Failures returns how many samples could not be published.
func (p *SamplePublisher) Failures() uint64 { return p.failed.Load() }
