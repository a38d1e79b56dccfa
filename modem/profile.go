package modem

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/pwitab/ublox/at"
)

// SocketProtocol tags a Socket with its transport protocol.
type SocketProtocol int

const (
	UDP SocketProtocol = iota
	TCP
)

func (p SocketProtocol) String() string {
	switch p {
	case UDP:
		return "udp"
	case TCP:
		return "tcp"
	default:
		return fmt.Sprintf("protocol(%d)", int(p))
	}
}

// ipProto returns the IANA protocol number used as the AT argument.
func (p SocketProtocol) ipProto() int {
	if p == TCP {
		return 6
	}
	return 17
}

// Profile describes one u-blox module family: its default serial settings,
// the AT verbs of its socket interface, and the URC prefixes it emits.
//
// The SARA-N2 family (NB-IoT) speaks the AT+NSO* socket dialect and returns
// unprefixed result lines; the SARA-R4 family speaks AT+USO* with +USO*
// prefixed results and +UUSO* URCs.
type Profile struct {
	Name       string
	BaudRate   int
	MaxSockets int

	nso       bool     // SARA-N2 dialect
	closedURC string   // socket-closed URC prefix, empty if the family has none
	dataURCs  []string // pending-data URC prefixes
	extraURCs []string // other URCs the family emits (logged, not acted on)
	initExtra []string // family specific setup after the common sequence
	rebootCmd string
}

var (
	// SaraN211 is the profile for SARA-N2 series NB-IoT modules.
	SaraN211 = Profile{
		Name:       "SARA-N211",
		BaudRate:   9600,
		MaxSockets: 7,
		nso:        true,
		dataURCs:   []string{at.UrcPendingData},
		extraURCs:  []string{at.UrcPowerSaving},
		initExtra: []string{
			"AT+CFUN=1",
			"AT+CEREG=1",
			"AT+CSCON=1",
			"AT+NPSMR=1",
		},
		rebootCmd: "AT+NRB",
	}

	// SaraR410 is the profile for SARA-R4 series LTE-M/NB-IoT modules.
	SaraR410 = Profile{
		Name:       "SARA-R410",
		BaudRate:   115200,
		MaxSockets: 7,
		closedURC:  at.UrcSocketClosed,
		dataURCs:   []string{at.UrcSocketRecv, at.UrcSocketRead},
		initExtra: []string{
			"AT+CFUN=1",
			"AT+URAT=8",
			"AT+CEREG=1",
			"AT+CSCON=1",
		},
		rebootCmd: "AT+CFUN=15",
	}
)

// supports reports whether the family's socket interface can carry proto.
// The N2 dialect is datagram only.
func (p *Profile) supports(proto SocketProtocol) bool {
	return proto == UDP || !p.nso
}

func (p *Profile) createSocketCmd(proto SocketProtocol, localPort int) string {
	if p.nso {
		return fmt.Sprintf(`AT+NSOCR="DGRAM",17,%d`, localPort)
	}
	cmd := fmt.Sprintf("AT+USOCR=%d", proto.ipProto())
	if localPort > 0 {
		cmd += fmt.Sprintf(",%d", localPort)
	}
	return cmd
}

// sendCmd encodes the payload as upper-case hex, the literal argument form
// both dialects accept on a text control channel.
func (p *Profile) sendCmd(id int, host string, port int, payload []byte) string {
	verb := "AT+USOST"
	if p.nso {
		verb = "AT+NSOST"
	}
	data := strings.ToUpper(hex.EncodeToString(payload))
	return fmt.Sprintf(`%s=%d,"%s",%d,%d,"%s"`, verb, id, host, port, len(payload), data)
}

func (p *Profile) receiveCmd(id, maxBytes int) string {
	if p.nso {
		return fmt.Sprintf("AT+NSORF=%d,%d", id, maxBytes)
	}
	return fmt.Sprintf("AT+USORF=%d,%d", id, maxBytes)
}

func (p *Profile) closeCmd(id int) string {
	if p.nso {
		return fmt.Sprintf("AT+NSOCL=%d", id)
	}
	return fmt.Sprintf("AT+USOCL=%d", id)
}

// parseSocketCreate extracts the module-assigned handle from the create
// response: "+USOCR: <n>" for the R4 dialect, a bare "<n>" line for N2.
func (p *Profile) parseSocketCreate(lines []string) (int, error) {
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if p.nso {
			if id, err := strconv.Atoi(line); err == nil {
				return id, nil
			}
			continue
		}
		u, ok := at.ParseURC(line)
		if !ok || u.Prefix != "+USOCR:" {
			continue
		}
		id, err := strconv.Atoi(u.Field(0))
		if err != nil {
			return 0, fmt.Errorf("%w: bad socket handle in %q", ErrProtocol, line)
		}
		return id, nil
	}
	return 0, fmt.Errorf("%w: no socket handle in create response", ErrProtocol)
}

// parseSocketSend extracts the byte count the module accepted from the send
// response: "+USOST: <id>,<len>" or the bare "<id>,<len>" N2 form.
func (p *Profile) parseSocketSend(lines []string) (int, error) {
	for _, line := range lines {
		fields := p.resultFields(line, "+USOST:")
		if len(fields) < 2 {
			continue
		}
		sent, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0, fmt.Errorf("%w: bad send confirmation %q", ErrProtocol, line)
		}
		return sent, nil
	}
	return 0, fmt.Errorf("%w: no send confirmation in response", ErrProtocol)
}

// datagram is one decoded receive result.
type datagram struct {
	addr      string
	port      int
	data      []byte
	remaining int // bytes still buffered on the module, -1 if not reported
}

// parseSocketReceive decodes a receive-query response. It reports ErrNoData
// when the module answered but carried no datagram, which is how "nothing
// pending" is distinguished from a real zero-length payload (the latter
// still carries the source address and port).
func (p *Profile) parseSocketReceive(lines []string) (datagram, error) {
	for _, line := range lines {
		fields := p.resultFields(line, "+USORF:")
		switch {
		case len(fields) >= 5:
			port, err := strconv.Atoi(fields[2])
			if err != nil {
				return datagram{}, fmt.Errorf("%w: bad source port in %q", ErrProtocol, line)
			}
			length, err := strconv.Atoi(fields[3])
			if err != nil {
				return datagram{}, fmt.Errorf("%w: bad length in %q", ErrProtocol, line)
			}
			data, err := hex.DecodeString(fields[4])
			if err != nil || len(data) != length {
				return datagram{}, fmt.Errorf("%w: payload does not match length in %q", ErrProtocol, line)
			}
			d := datagram{addr: fields[1], port: port, data: data, remaining: -1}
			if len(fields) >= 6 {
				if rem, err := strconv.Atoi(fields[5]); err == nil {
					d.remaining = rem
				}
			}
			return d, nil
		case len(fields) == 2:
			// "<id>,0": queried with nothing pending.
			return datagram{}, ErrNoData
		}
	}
	return datagram{}, ErrNoData
}

// resultFields splits a socket result line into its payload fields,
// accepting both the prefixed R4 form and the bare N2 form.
func (p *Profile) resultFields(line, prefix string) []string {
	line = strings.TrimSpace(line)
	if u, ok := at.ParseURC(line); ok {
		if u.Prefix != prefix {
			return nil
		}
		return u.Fields
	}
	if !p.nso {
		return nil
	}
	var fields []string
	for _, f := range strings.Split(line, ",") {
		fields = append(fields, strings.Trim(strings.TrimSpace(f), `"`))
	}
	return fields
}
