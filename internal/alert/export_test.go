package alert

import (
	"context"

	"github.com/wneessen/go-mail"
)

func (e *EmailSink) SetSender(fn func(ctx context.Context, m *mail.Msg) error) {
	e.send = fn
}
