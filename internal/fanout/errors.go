package fanout

import "codeberg.org/mutker/bmsctl/internal/errors"

const (
	ErrClosed          = errors.ErrorCode("fanout_closed")
	ErrQueueFull       = errors.ErrorCode("fanout_queue_full")
	ErrDeliveryTimeout = errors.ErrorCode("fanout_delivery_timeout")
	ErrSubscriberPanic = errors.ErrorCode("fanout_subscriber_panic")
	ErrSinkPanic       = errors.ErrorCode("fanout_sink_panic")
	ErrCloseTimeout    = errors.ErrorCode("fanout_close_timeout")
	ErrUnknownHandle   = errors.ErrorCode("fanout_unknown_subscriber")

	// Wrapped around sink failures before logging
	ErrStorageDispatch = errors.ErrorCode("fanout_storage_dispatch_failed")
	ErrAlertDispatch   = errors.ErrorCode("fanout_alert_dispatch_failed")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrClosed:          "Fan-out is closed",
		ErrQueueFull:       "Delivery queue is full",
		ErrDeliveryTimeout: "Subscriber did not accept the sample in time",
		ErrSubscriberPanic: "Subscriber panicked during delivery",
		ErrSinkPanic:       "Sink panicked during dispatch",
		ErrCloseTimeout:    "Fan-out workers did not drain in time",
		ErrUnknownHandle:   "Unknown subscriber handle",
		ErrStorageDispatch: "Failed to persist sample",
		ErrAlertDispatch:   "Failed to deliver alert",
	})
}
