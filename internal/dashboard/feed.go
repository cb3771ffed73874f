package dashboard

import (
	"context"
	"sync"

	"codeberg.org/mutker/bmsctl/internal/errors"
	"codeberg.org/mutker/bmsctl/internal/telemetry"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	defaultFeedBuffer = 8

	ErrFeedClosed = errors.ErrorCode("dashboard_feed_closed")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrFeedClosed: "Dashboard is no longer running",
	})
}

// Feed is the live subscriber the dashboard reads from.
type Feed struct {
	ch     chan telemetry.Sample
	closed chan struct{}
	once   sync.Once
}

func NewFeed() *Feed {
	return &Feed{
		ch:     make(chan telemetry.Sample, defaultFeedBuffer),
		closed: make(chan struct{}),
	}
}

func (f *Feed) Push(ctx context.Context, s telemetry.Sample) error {
	select {
	case f.ch <- s:
		return nil
	case <-f.closed:
		return errors.New().New(ErrFeedClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Feed) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type sampleMsg telemetry.Sample

type feedClosedMsg struct{}

// next waits for the following sample.
func (f *Feed) next() tea.Cmd {
	return func() tea.Msg {
		select {
		case s := <-f.ch:
			return sampleMsg(s)
		case <-f.closed:
			return feedClosedMsg{}
		}
	}
}
