package modem

import (
	"errors"
	"fmt"

	"github.com/pwitab/ublox/at"
)

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the module.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Modem
	// that has not been successfully initialized.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when an operation is attempted on a Modem
	// that has been closed, or when Close is called twice.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrLoopRunning is returned by Loop when the event loop is already
	// running. Loop must be started exactly once per Modem.
	ErrLoopRunning = errors.New("event loop already running")

	// ErrCommandTimeout is returned when a command received no final result
	// code within its deadline. It is deliberately distinct from a
	// ModuleError: a timeout means the module is unreachable or stuck, a
	// ModuleError means the module answered and rejected the command.
	ErrCommandTimeout = errors.New("command timed out")

	// ErrProtocol is returned when a command completed but its response did
	// not contain the lines the command grammar promises. It marks a framing
	// or parsing inconsistency, never plain line noise (noise outside a
	// command is absorbed and logged by the reader loop).
	ErrProtocol = errors.New("protocol violation")

	// ErrSocketClosed is returned for send or receive operations on a socket
	// that was closed, either locally or by the module via a +UUSOCL URC.
	ErrSocketClosed = errors.New("socket closed")

	// ErrNoData is the sentinel returned by a receive when the module
	// legitimately reports no pending data. It is not a failure and is
	// distinct from a successful zero-length datagram.
	ErrNoData = errors.New("no data available")

	// ErrNotSupported is returned when an operation is not available for the
	// socket's protocol, such as SendTo on a TCP socket.
	ErrNotSupported = errors.New("operation not supported for socket protocol")

	// ErrTooManySockets is returned by CreateSocket when the module's socket
	// table is already fully allocated.
	ErrTooManySockets = errors.New("no free socket handles")

	// ErrRegistrationDenied is returned by Connect when the network denied
	// registration and the retry budget was exhausted.
	ErrRegistrationDenied = errors.New("network registration denied")

	// ErrConnectTimeout is returned by Connect when the overall connect
	// deadline elapsed before a terminal registration state was reached.
	ErrConnectTimeout = errors.New("network registration timed out")
)

// ModuleError is an error the module itself reported: a bare ERROR line or a
// coded +CME ERROR/+CMS ERROR final result.
//
// Code is the numeric error code, or -1 when the module was configured for
// verbose errors and reported text only; the raw text is in Message.
type ModuleError struct {
	Kind    at.FinalKind
	Code    int
	Message string
}

func (e *ModuleError) Error() string {
	switch e.Kind {
	case at.FinalCME:
		if e.Code >= 0 {
			return fmt.Sprintf("module: CME error %d", e.Code)
		}
		return fmt.Sprintf("module: CME error: %s", e.Message)
	case at.FinalCMS:
		if e.Code >= 0 {
			return fmt.Sprintf("module: CMS error %d", e.Code)
		}
		return fmt.Sprintf("module: CMS error: %s", e.Message)
	default:
		return "module: ERROR"
	}
}

// moduleError builds the error for a non-OK final result.
func moduleError(final at.Final) error {
	return &ModuleError{Kind: final.Kind, Code: final.Code, Message: final.Message}
}
