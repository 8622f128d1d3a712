package canfd

import "errors"

var (
	// ErrInvalidInstance is returned when a method is called on a nil Device.
	ErrInvalidInstance = errors.New("canfd: invalid instance")
	// ErrNotReady is returned when a Device was not created with New.
	ErrNotReady = errors.New("canfd: device not ready")
	// ErrInvalidParam reports an out of range argument. No register is
	// touched when it is returned.
	ErrInvalidParam = errors.New("canfd: invalid parameter")
	// ErrInvalidID reports an identifier out of range for its format.
	ErrInvalidID = errors.New("canfd: invalid identifier")
	// ErrInvalidLen reports a payload longer than the frame format allows.
	ErrInvalidLen = errors.New("canfd: invalid data length")
	// ErrInvalidFlags reports a flag combination the frame format forbids,
	// such as BRS on a classic frame or RTR on an FD frame.
	ErrInvalidFlags = errors.New("canfd: invalid frame flags")
	// ErrInvalidDLC reports a payload length with no DLC encoding.
	ErrInvalidDLC = errors.New("canfd: invalid data length code")
	// ErrNoRoom is returned by Send and AddToQueue when every transmit
	// buffer holds a pending frame. Retry later.
	ErrNoRoom = errors.New("canfd: no room in transmit buffers")
	// ErrNoBuffer is returned by GetFreeBuffer when the TRR is saturated.
	ErrNoBuffer = errors.New("canfd: no free transmit buffer")
	// ErrNoData is the normal result of a receive poll that found nothing.
	ErrNoData = errors.New("canfd: no data")
	// ErrNotConfigMode is returned by timing setters outside Config mode.
	ErrNotConfigMode = errors.New("canfd: device not in configuration mode")
	// ErrModeTransition is returned when the core did not reach Config mode
	// on the way to the requested mode.
	ErrModeTransition = errors.New("canfd: mode transition failed")
	// ErrNotPending is returned when cancelling a buffer with no pending
	// transmission.
	ErrNotPending = errors.New("canfd: buffer has no pending transmission")
	// ErrAlreadyActive is returned when activating an active mailbox.
	ErrAlreadyActive = errors.New("canfd: mailbox already active")
	// ErrFilterEnabled is returned when programming an enabled acceptance filter.
	ErrFilterEnabled = errors.New("canfd: acceptance filter enabled")
	// ErrHandlerNotInstalled is returned by InterruptHandler when an
	// interrupt category fired with no handler installed.
	ErrHandlerNotInstalled = errors.New("canfd: handler not installed")
	// ErrNoConfig is returned when no device table entry matches.
	ErrNoConfig = errors.New("canfd: no such device")
	// ErrWrongRxMode is returned when calling a receive routine that does not
	// match the configured receive mode.
	ErrWrongRxMode = errors.New("canfd: wrong receive mode")
	// ErrClosed indicates the bus or endpoint has been closed.
	ErrClosed = errors.New("canfd: closed")
)
