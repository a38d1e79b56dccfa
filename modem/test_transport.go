package modem

import (
	"io"
	"sync"
)

// TestTransport is a test helper that simulates a blocking transport using
// channels. The event loop's scanner goroutine reads the transport
// continuously, so reads have to block until data is available, the way a
// real serial port behaves.
//
// Written commands are recorded and can be inspected with Writes, which is
// how tests assert the AT command stream without a mock expectation per
// write.
type TestTransport struct {
	mu       sync.Mutex
	readChan chan []byte
	writes   []string
	closed   bool
}

// NewTestTransport creates a new test transport. Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		readChan: make(chan []byte, 10),
	}
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	t.writes = append(t.writes, string(p))
	t.mu.Unlock()
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	data, ok := <-t.readChan
	if !ok {
		return 0, io.EOF
	}
	return copy(p, data), nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.readChan)
	return nil
}

// SendData queues data to be read by the transport, simulating module
// output arriving on the line.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.readChan <- []byte(data)
	}
}

// Writes returns everything written to the transport so far.
func (t *TestTransport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.writes))
	copy(out, t.writes)
	return out
}
