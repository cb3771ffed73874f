package acquisition

import "codeberg.org/mutker/bmsctl/internal/errors"

const (
	ErrInvalidPeriod = errors.ErrInvalidInterval
	ErrInvalidState  = errors.ErrorCode("acquisition_invalid_state")
	ErrStopTimeout   = errors.ErrorCode("acquisition_stop_timeout")
	ErrCyclePanic    = errors.ErrorCode("acquisition_cycle_panic")
	ErrRelease       = errors.ErrorCode("acquisition_release_failed")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrInvalidState: "Acquisition loop is not in the required state",
		ErrStopTimeout:  "Acquisition loop did not stop within the grace period",
		ErrCyclePanic:   "Acquisition cycle panicked",
		ErrRelease:      "Failed to release acquisition resources",
	})
}
