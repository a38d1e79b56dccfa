// Package at implements the textual grammar of the AT command protocol as
// spoken by u-blox cellular modules: line framing over the serial byte
// stream, classification of framed lines, and parsing of final result codes
// and unsolicited result codes (URCs).
package at

const (
	// Terminal Control
	CR   = "\r"
	LF   = "\n"
	CRLF = "\r\n"

	// Final result codes
	OK       = "OK"
	ERROR    = "ERROR"
	CmeError = "+CME ERROR:"
	CmsError = "+CMS ERROR:"

	// URCs (Unsolicited Result Codes)
	UrcRegStatus    = "+CEREG:"  // network registration status changed
	UrcConnStatus   = "+CSCON:"  // RRC connection status changed
	UrcPowerSaving  = "+NPSMR:"  // power saving mode entered/left
	UrcSocketClosed = "+UUSOCL:" // module closed a socket
	UrcSocketRead   = "+UUSORD:" // data pending on a connected socket
	UrcSocketRecv   = "+UUSORF:" // datagram pending on a socket
	UrcPendingData  = "+NSONMI:" // datagram pending (SARA-N2 family)
)

// ResponseType is the coarse classification of one framed line.
type ResponseType int

const (
	TypeFinal ResponseType = iota // OK, ERROR, +CME ERROR, +CMS ERROR
	TypeURC                       // asynchronous notifications
	TypeData                      // intermediate command output (+USOCR: 0)
)
