package modem_test

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"testing"
	"time"

	"go.uber.org/mock/gomock"
	"wildkamera.app/smsgw/modem"
)

func TestModemConnect(t *testing.T) {
	t.Run("Initialization Success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(slices.Concat(
			[]any{
				mockDialer.EXPECT().Dial(gomock.Any(), "/dev/ttyUSB0", 115200).Return(mockTransport, nil),
			},
			initMockCalls(mockTransport),
		)...)

		config, err := testConfig(mockDialer).Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}
		m, err := modem.New(config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}

		if err := m.Connect(context.Background()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if !m.IsReady() {
			t.Error("expected modem to be ready after Connect()")
		}
		if m.Port() != "/dev/ttyUSB0" {
			t.Errorf("unexpected port %q", m.Port())
		}

		// Clean up
		mockTransport.EXPECT().Close().Return(nil)
		if err := m.Disconnect(); err != nil {
			t.Errorf("unexpected error from Disconnect(): %v", err)
		}
	})

	t.Run("Connect then Disconnect leaves modem not ready and device closed", func(t *testing.T) {
		transport := scriptedModem()

		config, err := testConfig(transport.Dialer()).Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}
		m, _ := modem.New(config)

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := m.Disconnect(); err != nil {
			t.Errorf("unexpected error from Disconnect(): %v", err)
		}

		if m.IsReady() {
			t.Error("expected modem not to be ready after Disconnect()")
		}
		if !transport.Closed() {
			t.Error("expected device to be closed after Disconnect()")
		}

		// Disconnect is idempotent
		if err := m.Disconnect(); err != nil {
			t.Errorf("second Disconnect() should be a no-op, got: %v", err)
		}
	})

	t.Run("Handshake commands in order", func(t *testing.T) {
		transport := scriptedModem()

		config, _ := testConfig(transport.Dialer()).Build()
		m, _ := modem.New(config)
		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer m.Disconnect()

		expected := []string{
			"AT\r\n",
			"ATE0\r\n",
			"AT+CMGF=1\r\n",
			"AT+CSCS=\"GSM\"\r\n",
			"AT+CPIN?\r\n",
			"AT+CREG?\r\n",
		}
		if got := transport.Writes(); !slices.Equal(got, expected) {
			t.Errorf("unexpected handshake:\nwant %q\ngot  %q", expected, got)
		}
	})

	t.Run("ErrModemNotResponding when probe gets no OK", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(
			slices.Concat(
				[]any{
					mockDialer.EXPECT().Dial(gomock.Any(), gomock.Any(), gomock.Any()).Return(mockTransport, nil),
				},
				NewMockSequence(mockTransport).Silent("AT").Build(),
				[]any{
					mockTransport.EXPECT().Close(),
				},
			)...,
		)

		config, _ := testConfig(mockDialer).Build()
		m, _ := modem.New(config)

		err := m.Connect(context.Background())
		if !errors.Is(err, modem.ErrModemNotResponding) {
			t.Errorf("expected ErrModemNotResponding, got: %v", err)
		}
		if m.IsReady() {
			t.Error("modem must not be ready after failed probe")
		}
	})

	t.Run("Dialer error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDialer := modem.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, modem.ErrDeviceUnavailable)

		config, _ := testConfig(mockDialer).Build()
		m, _ := modem.New(config)

		err := m.Connect(context.Background())
		if !errors.Is(err, modem.ErrDeviceUnavailable) {
			t.Errorf("expected ErrDeviceUnavailable, got: %v", err)
		}
		if m.IsReady() {
			t.Error("modem must not be ready after dial failure")
		}
	})

	t.Run("Transport failure during initialization is fatal", func(t *testing.T) {
		transport := scriptedModem().FailWrite("AT+CSCS=\"GSM\"\r\n", io.ErrClosedPipe)

		config, _ := testConfig(transport.Dialer()).Build()
		m, _ := modem.New(config)

		err := m.Connect(context.Background())
		if !errors.Is(err, modem.ErrTransportLost) {
			t.Errorf("expected ErrTransportLost, got: %v", err)
		}
		if m.IsReady() || !transport.Closed() {
			t.Error("expected closed, not ready modem after fatal init failure")
		}
	})

	t.Run("Unacknowledged setup command only warns", func(t *testing.T) {
		transport := modem.NewTestTransport().
			Reply("AT\r\n", "\r\nOK\r\n").
			Reply("ATE0\r\n", "\r\nOK\r\n").
			Reply("AT+CMGF=1\r\n", "\r\nOK\r\n").
			Reply("AT+CSCS=\"GSM\"\r\n", "\r\nERROR\r\n").
			Reply("AT+CPIN?\r\n", "\r\n+CPIN: READY\r\n\r\nOK\r\n").
			Reply("AT+CREG?\r\n", "\r\n+CREG: 0,1\r\n\r\nOK\r\n")

		config, _ := testConfig(transport.Dialer()).Build()
		m, _ := modem.New(config)

		if err := m.Connect(context.Background()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if !m.IsReady() {
			t.Error("expected modem to be ready")
		}
	})

	t.Run("SIM not ready only warns", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(
			slices.Concat(
				[]any{
					mockDialer.EXPECT().Dial(gomock.Any(), gomock.Any(), gomock.Any()).Return(mockTransport, nil),
				},
				NewMockSequence(mockTransport).
					AT().
					EchoOff().
					SMSTextMode().
					CharsetGSM().
					SimPinRequired().
					Registered().
					Build(),
			)...,
		)

		config, _ := testConfig(mockDialer).Build()
		m, _ := modem.New(config)

		if err := m.Connect(context.Background()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if !m.IsReady() {
			t.Error("expected modem to be ready despite locked SIM")
		}

		mockTransport.EXPECT().Close().Return(nil)
		m.Disconnect()
	})

	t.Run("SIM PIN is entered when configured", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(
			slices.Concat(
				[]any{
					mockDialer.EXPECT().Dial(gomock.Any(), gomock.Any(), gomock.Any()).Return(mockTransport, nil),
				},
				NewMockSequence(mockTransport).
					AT().
					EchoOff().
					SMSTextMode().
					CharsetGSM().
					SimPinRequired().
					Exchange(`AT+CPIN="1234"`, "\r\nOK\r\n").
					Registered().
					Build(),
			)...,
		)

		config, _ := testConfig(mockDialer).WithSimPIN("1234").Build()
		m, _ := modem.New(config)

		if err := m.Connect(context.Background()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}

		mockTransport.EXPECT().Close().Return(nil)
		m.Disconnect()
	})

	t.Run("Cancelled context aborts settle wait", func(t *testing.T) {
		transport := scriptedModem()

		config, _ := testConfig(transport.Dialer()).WithSettleDelay(time.Hour).Build()
		m, _ := modem.New(config)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if err := m.Connect(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got: %v", err)
		}
		if !transport.Closed() {
			t.Error("expected session to be closed")
		}
	})

	t.Run("Reconnect replaces the session", func(t *testing.T) {
		first := scriptedModem()
		second := scriptedModem()
		transports := []*modem.TestTransport{first, second}

		dialer := modem.DialerFunc(func(context.Context, string, int) (modem.Transport, error) {
			next := transports[0]
			transports = transports[1:]
			return next, nil
		})

		config, _ := testConfig(dialer).Build()
		m, _ := modem.New(config)

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("first connect failed: %v", err)
		}
		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("second connect failed: %v", err)
		}
		if !first.Closed() {
			t.Error("expected first session to be closed by reconnect")
		}
		if second.Closed() || !m.IsReady() {
			t.Error("expected second session to be live")
		}
	})
}

func TestModemRegistration(t *testing.T) {
	notRegistered := "\r\n+CREG: 0,2\r\n\r\nOK\r\n"
	registered := "\r\n+CREG: 0,1\r\n\r\nOK\r\n"

	t.Run("Registers on the tenth poll", func(t *testing.T) {
		answers := slices.Repeat([]string{notRegistered}, 9)
		answers = append(answers, registered)

		transport := modem.NewTestTransport().
			Reply("AT\r\n", "\r\nOK\r\n").
			Reply("ATE0\r\n", "\r\nOK\r\n").
			Reply("AT+CMGF=1\r\n", "\r\nOK\r\n").
			Reply("AT+CSCS=\"GSM\"\r\n", "\r\nOK\r\n").
			Reply("AT+CPIN?\r\n", "\r\n+CPIN: READY\r\n\r\nOK\r\n").
			Reply("AT+CREG?\r\n", answers...)

		config, _ := testConfig(transport.Dialer()).Build()
		m, _ := modem.New(config)

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !m.IsReady() {
			t.Error("expected modem to be ready")
		}

		polls := 0
		for _, w := range transport.Writes() {
			if w == "AT+CREG?\r\n" {
				polls++
			}
		}
		if polls != 10 {
			t.Errorf("expected 10 registration polls, got %d", polls)
		}
	})

	t.Run("Never registers but still becomes ready", func(t *testing.T) {
		transport := modem.NewTestTransport().
			Reply("AT\r\n", "\r\nOK\r\n").
			Reply("ATE0\r\n", "\r\nOK\r\n").
			Reply("AT+CMGF=1\r\n", "\r\nOK\r\n").
			Reply("AT+CSCS=\"GSM\"\r\n", "\r\nOK\r\n").
			Reply("AT+CPIN?\r\n", "\r\n+CPIN: READY\r\n\r\nOK\r\n").
			Reply("AT+CREG?\r\n", notRegistered)

		config, _ := testConfig(transport.Dialer()).Build()
		m, _ := modem.New(config)

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("registration timeout must not fail Connect: %v", err)
		}
		if !m.IsReady() {
			t.Error("expected modem to be ready without registration")
		}

		polls := 0
		for _, w := range transport.Writes() {
			if w == "AT+CREG?\r\n" {
				polls++
			}
		}
		if polls != 10 {
			t.Errorf("expected 10 registration polls, got %d", polls)
		}
	})

	t.Run("Roaming counts as registered", func(t *testing.T) {
		transport := modem.NewTestTransport().
			Reply("AT\r\n", "\r\nOK\r\n").
			Reply("ATE0\r\n", "\r\nOK\r\n").
			Reply("AT+CMGF=1\r\n", "\r\nOK\r\n").
			Reply("AT+CSCS=\"GSM\"\r\n", "\r\nOK\r\n").
			Reply("AT+CPIN?\r\n", "\r\n+CPIN: READY\r\n\r\nOK\r\n").
			Reply("AT+CREG?\r\n", "\r\n+CREG: 0,5\r\n\r\nOK\r\n")

		config, _ := testConfig(transport.Dialer()).Build()
		m, _ := modem.New(config)

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := strings.Count(strings.Join(transport.Writes(), ""), "AT+CREG?"); got != 1 {
			t.Errorf("expected a single registration poll, got %d", got)
		}
	})

	t.Run("Unsolicited CREG before the answer", func(t *testing.T) {
		transport := modem.NewTestTransport().
			Reply("AT\r\n", "\r\nOK\r\n").
			Reply("ATE0\r\n", "\r\nOK\r\n").
			Reply("AT+CMGF=1\r\n", "\r\nOK\r\n").
			Reply("AT+CSCS=\"GSM\"\r\n", "\r\nOK\r\n").
			Reply("AT+CPIN?\r\n", "\r\n+CPIN: READY\r\n\r\nOK\r\n").
			Reply("AT+CREG?\r\n", "\r\n+CREG: 2,\"00C3\",\"0F2A\"\r\n\r\n+CREG: 2,1,\"00C3\",\"0F2A\"\r\n\r\nOK\r\n")

		config, _ := testConfig(transport.Dialer()).Build()
		m, _ := modem.New(config)

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := strings.Count(strings.Join(transport.Writes(), ""), "AT+CREG?"); got != 1 {
			t.Errorf("expected a single registration poll, got %d", got)
		}
	})
}

func TestModemAutoDiscovery(t *testing.T) {
	t.Run("Connects to discovered port", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		lister := modem.NewMockPortLister(ctrl)
		lister.EXPECT().ListPorts().Return([]modem.PortDescriptor{
			{Device: "/dev/ttyS0", Name: "ttyS0", Description: "n/a", HardwareID: "n/a"},
			{Device: "/dev/ttyUSB2", Name: "ttyUSB2", Description: "HUAWEI Mobile", HardwareID: "USB VID:PID=12D1:1506"},
		}, nil)

		transport := scriptedModem()
		var dialed string
		dialer := modem.DialerFunc(func(_ context.Context, path string, _ int) (modem.Transport, error) {
			dialed = path
			return transport, nil
		})

		config, _ := testConfig(dialer).WithPort(modem.AutoPort).WithPortLister(lister).Build()
		m, _ := modem.New(config)

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dialed != "/dev/ttyUSB2" || m.Port() != "/dev/ttyUSB2" {
			t.Errorf("expected discovered port to be used, dialed %q", dialed)
		}
	})

	t.Run("ErrNoModemFound when nothing matches", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		lister := modem.NewMockPortLister(ctrl)
		lister.EXPECT().ListPorts().Return([]modem.PortDescriptor{
			{Device: "/dev/ttyS0", Name: "ttyS0", Description: "n/a", HardwareID: "n/a"},
		}, nil)
		mockDialer := modem.NewMockDialer(ctrl)

		config, _ := testConfig(mockDialer).WithPort("").WithPortLister(lister).Build()
		m, _ := modem.New(config)

		if err := m.Connect(context.Background()); !errors.Is(err, modem.ErrNoModemFound) {
			t.Errorf("expected ErrNoModemFound, got: %v", err)
		}
	})

	t.Run("ErrNoModemFound when enumeration fails", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		lister := modem.NewMockPortLister(ctrl)
		lister.EXPECT().ListPorts().Return(nil, errors.New("enumeration not supported"))
		mockDialer := modem.NewMockDialer(ctrl)

		config, _ := testConfig(mockDialer).WithPort("").WithPortLister(lister).Build()
		m, _ := modem.New(config)

		if err := m.Connect(context.Background()); !errors.Is(err, modem.ErrNoModemFound) {
			t.Errorf("expected ErrNoModemFound, got: %v", err)
		}
	})
}

func TestSendCommand(t *testing.T) {
	t.Run("Returns response without terminator", func(t *testing.T) {
		transport := scriptedModem().Reply("AT+CSQ\r\n", "\r\n+CSQ: 21,99\r\n")

		config, _ := testConfig(transport.Dialer()).Build()
		m, _ := modem.New(config)
		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer m.Disconnect()

		resp, err := m.SendCommand(context.Background(), "AT+CSQ", "", 20*time.Millisecond)
		if err != nil {
			t.Errorf("timeout must not be an error, got: %v", err)
		}
		if resp != "+CSQ: 21,99" {
			t.Errorf("unexpected response %q", resp)
		}
		if !m.IsReady() {
			t.Error("a timed out command must not clear the ready state")
		}
	})

	t.Run("Custom terminator", func(t *testing.T) {
		transport := scriptedModem().Reply("ATI\r\n", "\r\nQuectel\r\nEC25\r\nRevision: EC25EFAR06A09M4G\r\n\r\nOK\r\n")

		config, _ := testConfig(transport.Dialer()).Build()
		m, _ := modem.New(config)
		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer m.Disconnect()

		resp, err := m.SendCommand(context.Background(), "ATI", "Revision:", 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(resp, "Revision:") {
			t.Errorf("unexpected response %q", resp)
		}
	})

	t.Run("ErrNotConnected before Connect", func(t *testing.T) {
		config, _ := testConfig(modem.NewTestTransport().Dialer()).Build()
		m, _ := modem.New(config)

		if _, err := m.SendCommand(context.Background(), "AT", "", 0); !errors.Is(err, modem.ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got: %v", err)
		}
	})

	t.Run("I/O failure clears ready state", func(t *testing.T) {
		transport := scriptedModem().FailWrite("AT+CGMI\r\n", io.ErrClosedPipe)

		config, _ := testConfig(transport.Dialer()).Build()
		m, _ := modem.New(config)
		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		_, err := m.SendCommand(context.Background(), "AT+CGMI", "", 0)
		if !modem.IsTransportLost(err) {
			t.Errorf("expected ErrTransportLost, got: %v", err)
		}
		if m.IsReady() || !transport.Closed() {
			t.Error("expected modem to drop the session after I/O failure")
		}
	})
}
