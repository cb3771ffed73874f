package influx

import (
	"codeberg.org/mutker/bmsctl/internal/logger"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

type PointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

func NewWithWriter(w PointWriter, cfg Config, log logger.Logger) *Subscriber {
	return newSubscriber(w, cfg, log)
}

func (s *Subscriber) DrainErrors(errs <-chan error) { s.drainErrors(errs) }
