package modem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSerialDialerDial(t *testing.T) {
	t.Run("Nil context is rejected", func(t *testing.T) {
		d := SerialDialer{PortName: "/dev/ttyUSB0", BaudRate: 115200}
		_, err := d.Dial(nil) //nolint:staticcheck // testing the nil guard
		require.EqualError(t, err, "ublox: context is nil")
	})

	t.Run("Port name is required", func(t *testing.T) {
		d := SerialDialer{BaudRate: 115200}
		_, err := d.Dial(context.Background())
		require.EqualError(t, err, "ublox: serial port name is required")
	})

	t.Run("Cancelled context aborts before opening", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		d := SerialDialer{PortName: "/dev/ttyUSB0", BaudRate: 115200}
		_, err := d.Dial(ctx)
		require.ErrorIs(t, err, context.Canceled)
	})
}
