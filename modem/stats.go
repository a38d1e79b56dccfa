package modem

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// RadioStats is a snapshot of the module's radio layer, as reported by
// AT+NUESTATS="RADIO". Power values are in 10ths of dBm.
type RadioStats struct {
	SignalPower int
	TotalPower  int
	TXPower     int
	TXTime      int
	RXTime      int
	CellID      int
	ECL         int
	SNR         int
	EARFCN      int
	PCI         int
	RSRQ        int
}

// RadioStats queries and parses the module's radio statistics report.
func (m *Modem) RadioStats(ctx context.Context) (RadioStats, error) {
	outcome, err := m.Execute(ctx, Request{Cmd: `AT+NUESTATS="RADIO"`})
	if err != nil {
		return RadioStats{}, fmt.Errorf("query radio stats: %w", err)
	}

	var stats RadioStats
	found := false
	for _, line := range outcome.Lines {
		name, value, ok := parseStatsLine(line)
		if !ok {
			continue
		}
		found = true
		switch name {
		case "Signal power":
			stats.SignalPower = value
		case "Total power":
			stats.TotalPower = value
		case "TX power":
			stats.TXPower = value
		case "TX time":
			stats.TXTime = value
		case "RX time":
			stats.RXTime = value
		case "Cell ID":
			stats.CellID = value
		case "ECL":
			stats.ECL = value
		case "SNR":
			stats.SNR = value
		case "EARFCN":
			stats.EARFCN = value
		case "PCI":
			stats.PCI = value
		case "RSRQ":
			stats.RSRQ = value
		default:
			m.log.Debug("unhandled radio statistic", "name", name, "value", value)
		}
	}
	if !found {
		return RadioStats{}, fmt.Errorf("query radio stats: %w: no NUESTATS lines", ErrProtocol)
	}
	return stats, nil
}

// parseStatsLine decodes one report line of the form
//
//	NUESTATS: "RADIO","Signal power",-682
func parseStatsLine(line string) (name string, value int, ok bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), "NUESTATS:")
	if !ok {
		return "", 0, false
	}
	var fields []string
	for _, f := range strings.Split(rest, ",") {
		fields = append(fields, strings.Trim(strings.TrimSpace(f), `"`))
	}
	if len(fields) != 3 || fields[0] != "RADIO" {
		return "", 0, false
	}
	value, err := strconv.Atoi(fields[2])
	if err != nil {
		return "", 0, false
	}
	return fields[1], value, true
}
