package modem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pwitab/ublox/modem"
)

func TestRadioStats(t *testing.T) {
	t.Run("Report lines are folded into the snapshot", func(t *testing.T) {
		m, transport := newTestModem(t)

		respondNext(t, transport,
			"NUESTATS: \"RADIO\",\"Signal power\",-682\r\n"+
				"NUESTATS: \"RADIO\",\"Total power\",-632\r\n"+
				"NUESTATS: \"RADIO\",\"TX power\",-87\r\n"+
				"NUESTATS: \"RADIO\",\"TX time\",2896\r\n"+
				"NUESTATS: \"RADIO\",\"RX time\",53413\r\n"+
				"NUESTATS: \"RADIO\",\"Cell ID\",28538392\r\n"+
				"NUESTATS: \"RADIO\",\"ECL\",0\r\n"+
				"NUESTATS: \"RADIO\",\"SNR\",132\r\n"+
				"NUESTATS: \"RADIO\",\"EARFCN\",6354\r\n"+
				"NUESTATS: \"RADIO\",\"PCI\",237\r\n"+
				"NUESTATS: \"RADIO\",\"RSRQ\",-108\r\n"+
				"OK\r\n")

		stats, err := m.RadioStats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, modem.RadioStats{
			SignalPower: -682,
			TotalPower:  -632,
			TXPower:     -87,
			TXTime:      2896,
			RXTime:      53413,
			CellID:      28538392,
			ECL:         0,
			SNR:         132,
			EARFCN:      6354,
			PCI:         237,
			RSRQ:        -108,
		}, stats)
	})

	t.Run("Unknown statistics are skipped", func(t *testing.T) {
		m, transport := newTestModem(t)

		respondNext(t, transport,
			"NUESTATS: \"RADIO\",\"Signal power\",-700\r\n"+
				"NUESTATS: \"RADIO\",\"Future metric\",1\r\n"+
				"OK\r\n")

		stats, err := m.RadioStats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, -700, stats.SignalPower)
	})

	t.Run("Response without report lines is a protocol error", func(t *testing.T) {
		m, transport := newTestModem(t)

		respondNext(t, transport, "OK\r\n")
		_, err := m.RadioStats(context.Background())
		require.ErrorIs(t, err, modem.ErrProtocol)
	})
}
