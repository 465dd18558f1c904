package input

import (
	"errors"
	"fmt"
)

var (
	// ErrMetricsUnavailable is returned when the screen extent cannot be
	// queried or is zero
	ErrMetricsUnavailable = errors.New("screen metrics unavailable")

	// ErrInjectionRejected matches every *InjectionRejectedError
	ErrInjectionRejected = errors.New("injection rejected")

	// ErrUnsupportedPlatform is returned when the host has no injection primitive
	ErrUnsupportedPlatform = errors.New("input injection not supported on this platform")

	// ErrUnknownButton is returned for buttons outside left/right/middle
	ErrUnknownButton = errors.New("unknown pointer button")
)

// InjectionRejectedError reports a batch the host accepted only partially
// or not at all. Code is the host diagnostic captured right after the call.
type InjectionRejectedError struct {
	Code      int32
	Submitted int
	Accepted  uint32
}

func (e *InjectionRejectedError) Error() string {
	return fmt.Sprintf("injection rejected: %d of %d events accepted, host error code %d",
		e.Accepted, e.Submitted, e.Code)
}

func (e *InjectionRejectedError) Is(target error) bool {
	return target == ErrInjectionRejected
}
