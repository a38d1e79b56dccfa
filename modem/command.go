package modem

import (
	"context"
	"time"

	"github.com/pwitab/ublox/at"
)

// Request describes one AT command execution.
type Request struct {
	// Cmd is the command text without line terminator, e.g. "AT+USOCR=17".
	Cmd string
	// Timeout overrides the configured default AT timeout when non-zero.
	Timeout time.Duration
	// CaptureURCs folds URC lines arriving during execution into the
	// Outcome instead of dispatching them to subscribers. Commands that
	// complete through a URC-shaped confirmation line use this to keep the
	// confirmation with the response it belongs to.
	CaptureURCs bool
}

// Outcome is the result of one executed Request.
type Outcome struct {
	// Lines are the intermediate data lines, in arrival order.
	Lines []string
	// URCs are the URC lines captured during execution. Empty unless the
	// request set CaptureURCs.
	URCs []string
	// Final is the parsed final result code. Meaningless when the command
	// failed before a final result arrived (timeout, transport failure).
	Final at.Final
}

// commandRequest is the unit the event loop processes: the request, its
// execution context and the channel the outcome is delivered on.
type commandRequest struct {
	req  Request
	ctx  context.Context
	resp chan commandResult
}

type commandResult struct {
	outcome Outcome
	err     error
}

// respond delivers the result. The channel is buffered so the loop never
// blocks on a caller that already gave up.
func (c *commandRequest) respond(outcome Outcome, err error) {
	c.resp <- commandResult{outcome: outcome, err: err}
}
