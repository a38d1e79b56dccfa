package modem_test

import (
	gomock "go.uber.org/mock/gomock"

	"github.com/pwitab/ublox/modem"
)

// MockSequenceBuilder assembles ordered transport expectations for the AT
// exchanges the driver performs during init.
type MockSequenceBuilder struct {
	transport *modem.MockTransport
	calls     []any
}

func NewMockSequence(transport *modem.MockTransport) *MockSequenceBuilder {
	return &MockSequenceBuilder{
		transport: transport,
		calls:     []any{},
	}
}

// Command expects cmd on the wire and answers with response.
func (b *MockSequenceBuilder) Command(cmd, response string) *MockSequenceBuilder {
	wire := cmd + "\r\n"
	b.calls = append(b.calls,
		b.transport.EXPECT().Write([]byte(wire)).Return(len(wire), nil),
		b.transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			copy(p, response)
			return len(response), nil
		}),
	)
	return b
}

// OK expects cmd and answers with a plain OK.
func (b *MockSequenceBuilder) OK(cmd string) *MockSequenceBuilder {
	return b.Command(cmd, "OK\r\n")
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}

// initMockCalls is the expectation set for the SARA-R410 init sequence.
func initMockCalls(transport *modem.MockTransport) []any {
	return NewMockSequence(transport).
		OK("ATE0").
		OK("AT+CMEE=2").
		OK("AT+CFUN=1").
		OK("AT+URAT=8").
		OK("AT+CEREG=1").
		OK("AT+CSCON=1").
		Build()
}
