package sensor

import "codeberg.org/mutker/bmsctl/internal/errors"

const (
	ErrUnavailable = errors.ErrorCode("sensor_channel_unavailable")
	ErrOutOfRange  = errors.ErrorCode("sensor_channel_out_of_range")
	ErrTimeout     = errors.ErrorCode("sensor_channel_timeout")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrUnavailable: "Sensor channel unavailable",
		ErrOutOfRange:  "Sensor reading out of range",
		ErrTimeout:     "Sensor channel timed out",
	})
}

// Kind classifies a channel failure.
type Kind int

const (
	KindNone Kind = iota
	KindUnavailable
	KindOutOfRange
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindOutOfRange:
		return "out_of_range"
	case KindTimeout:
		return "timeout"
	default:
		return "none"
	}
}

// Failure is the data attached to every channel error.
type Failure struct {
	Channel ChannelID
	Detail  string
}

// Unavailable reports a bus or transport failure on id.
func Unavailable(id ChannelID, err error) errors.Error {
	return newError(ErrUnavailable, id, err)
}

// OutOfRange reports a saturated or overflowing reading on id.
func OutOfRange(id ChannelID, detail string) errors.Error {
	return errors.New().WithData(ErrOutOfRange, Failure{Channel: id, Detail: detail})
}

// Timeout reports that id did not answer within its read window.
func Timeout(id ChannelID, err error) errors.Error {
	return newError(ErrTimeout, id, err)
}

func newError(code errors.ErrorCode, id ChannelID, err error) errors.Error {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return errors.New().Wrap(code, err).WithData(Failure{Channel: id, Detail: detail})
}

// KindOf recovers the failure kind of a channel error. Errors that are not
// channel errors count as unavailable.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.HasCode(err, ErrTimeout):
		return KindTimeout
	case errors.HasCode(err, ErrOutOfRange):
		return KindOutOfRange
	default:
		return KindUnavailable
	}
}
