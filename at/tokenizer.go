package at

import (
	"bufio"
	"bytes"
)

// Splitter is used for tokenizing u-blox module output. It uses the
// signature of bufio.SplitFunc so it can be directly used with bufio.Scanner.
//
// Lines are delimited by CR, LF or CRLF; the terminator is not part of the
// token. Blank lines are emitted as empty tokens and should be skipped by
// the consumer. The split is chunking invariant: the sequence of tokens does
// not depend on how the byte stream was cut into Read calls.
//
// Important: This splitter assumes "No Echo" mode (ATE0). With echo enabled
// the command text itself would come back as a line preceding the response.
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	i := bytes.IndexAny(data, CRLF)
	if i < 0 {
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}

	advance = i + 1
	if data[i] == '\r' {
		// A CR at the very end of the buffer may be the first half of a
		// CRLF pair split across chunks. Wait for more data so the LF is
		// consumed together with it.
		if advance == len(data) && !atEOF {
			return 0, nil, nil
		}
		if advance < len(data) && data[advance] == '\n' {
			advance++
		}
	}
	return advance, data[:i], nil
}

var _ bufio.SplitFunc = Splitter
