package modem

import (
	"context"
	"errors"
	"io"

	"go.bug.st/serial"
)

//go:generate go tool mockgen -source=transport.go -destination=mock_transport.go -package=modem

// Transport represents an established, bidirectional byte stream to a u-blox
// cellular module.
//
// A Transport is assumed to be already connected and ready for use. It
// provides the low-level I/O primitives the driver needs to send AT commands
// and receive responses. Typical implementations are serial ports, TCP
// connections to emulators, or in-memory fakes used for testing.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to a u-blox module.
//
// Dialer abstracts how the connection is created (serial port, emulator,
// test double) and is used during driver construction only. Once a Transport
// is obtained, the Dialer is no longer needed.
type Dialer interface {
	// Dial creates and returns a connected Transport. It may perform
	// blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the transport
	// cannot be established.
	Dial(ctx context.Context) (Transport, error)
}

// SerialDialer opens a module over a serial port using go.bug.st/serial.
//
// BaudRate of zero selects the module profile's default when the dialer is
// handed to NewConfigBuilder; a SerialDialer used standalone needs an
// explicit rate.
type SerialDialer struct {
	PortName string
	BaudRate int
}

// Dial opens the serial port. The port itself has no dial phase, so the
// context is only checked for prior cancellation.
func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("ublox: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("ublox: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	port, err := serial.Open(d.PortName, &serial.Mode{BaudRate: d.BaudRate})
	if err != nil {
		return nil, err
	}
	return port, nil
}
