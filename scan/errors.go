package scan

import "errors"

var (
	// ErrBusy is returned when an operation is requested while the
	// controller is not idle.
	ErrBusy = errors.New("controller busy")

	// ErrRunning is returned when an operation requires a stopped
	// sampler or scope.
	ErrRunning = errors.New("already running")

	// ErrInvalid wraps parameter validation failures. These are always
	// raised before any hardware interaction.
	ErrInvalid = errors.New("invalid parameter")

	// ErrUnsupported is returned for capabilities a device does not
	// implement, like live position readback.
	ErrUnsupported = errors.New("not supported by device")
)
