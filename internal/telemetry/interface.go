package telemetry

import "context"

// Persistence stores Samples in append order and returns bounded slices of
// them. Calls are serialized by the caller.
type Persistence interface {
	Append(ctx context.Context, s Sample) error
	Query(ctx context.Context, limit int, newestFirst bool) ([]Sample, error)
}

// Subscriber observes live Samples. Push must honor ctx; a push that outlives
// it gets the subscriber dropped.
type Subscriber interface {
	Push(ctx context.Context, s Sample) error
}

// AlertSink delivers a notification for an anomalous Sample.
type AlertSink interface {
	Notify(ctx context.Context, s Sample, message string) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, s Sample) error

func (f SubscriberFunc) Push(ctx context.Context, s Sample) error { return f(ctx, s) }

// AlertFunc adapts a function to AlertSink.
type AlertFunc func(ctx context.Context, s Sample, message string) error

func (f AlertFunc) Notify(ctx context.Context, s Sample, message string) error {
	return f(ctx, s, message)
}
