package modem_test

import (
	"time"

	gomock "go.uber.org/mock/gomock"
	"wildkamera.app/smsgw/modem"
)

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

// Exchange expects cmd to be written and answers it with resp in one read.
func (b *MockSequenceBuilder) Exchange(cmd, resp string) *MockSequenceBuilder {
	wire := cmd + "\r\n"
	b.calls = append(b.calls,
		b.transport.EXPECT().Write([]byte(wire)).Return(len(wire), nil),
		b.transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			return copy(p, resp), nil
		}),
	)
	return b
}

// Silent expects cmd to be written and never answers it.
func (b *MockSequenceBuilder) Silent(cmd string) *MockSequenceBuilder {
	wire := cmd + "\r\n"
	b.calls = append(b.calls,
		b.transport.EXPECT().Write([]byte(wire)).Return(len(wire), nil),
		b.transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			time.Sleep(time.Millisecond)
			return 0, nil
		}).MinTimes(1),
	)
	return b
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	return b.Exchange("AT", "AT\r\nOK\r\n")
}

func (b *MockSequenceBuilder) EchoOff() *MockSequenceBuilder {
	return b.Exchange("ATE0", "ATE0\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SMSTextMode() *MockSequenceBuilder {
	return b.Exchange("AT+CMGF=1", "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) CharsetGSM() *MockSequenceBuilder {
	return b.Exchange(`AT+CSCS="GSM"`, "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SimReady() *MockSequenceBuilder {
	return b.Exchange("AT+CPIN?", "\r\n+CPIN: READY\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SimPinRequired() *MockSequenceBuilder {
	return b.Exchange("AT+CPIN?", "\r\n+CPIN: SIM PIN\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) NotRegistered() *MockSequenceBuilder {
	return b.Exchange("AT+CREG?", "\r\n+CREG: 0,2\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) Registered() *MockSequenceBuilder {
	return b.Exchange("AT+CREG?", "\r\n+CREG: 0,1\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}

// initMockCalls scripts a complete, successful Connect handshake.
func initMockCalls(transport *modem.MockTransport) []any {
	return NewMockSequence(transport).
		AT().
		EchoOff().
		SMSTextMode().
		CharsetGSM().
		SimReady().
		Registered().
		Build()
}

// testConfig returns a builder with timings short enough for unit tests.
func testConfig(dialer modem.Dialer) *modem.ConfigBuilder {
	return modem.NewConfigBuilder().
		WithPort("/dev/ttyUSB0").
		WithDialer(dialer).
		WithTimeout(50 * time.Millisecond).
		WithSettleDelay(time.Millisecond).
		WithSMSTimeout(100 * time.Millisecond).
		WithRegistration(modem.PollConfig{Interval: time.Millisecond, MaxRetries: 10})
}

// scriptedModem scripts the Connect handshake on a TestTransport and
// returns it for further replies.
func scriptedModem() *modem.TestTransport {
	return modem.NewTestTransport().
		Reply("AT\r\n", "\r\nOK\r\n").
		Reply("ATE0\r\n", "ATE0\r\nOK\r\n").
		Reply("AT+CMGF=1\r\n", "\r\nOK\r\n").
		Reply("AT+CSCS=\"GSM\"\r\n", "\r\nOK\r\n").
		Reply("AT+CPIN?\r\n", "\r\n+CPIN: READY\r\n\r\nOK\r\n").
		Reply("AT+CREG?\r\n", "\r\n+CREG: 0,1\r\n\r\nOK\r\n")
}
