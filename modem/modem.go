package modem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"wildkamera.app/smsgw/at"
)

// Modem drives a GSM modem over AT commands. It owns at most one Session at
// a time, between Connect and Disconnect.
//
// Requests and responses are correlated purely by ordering (write, then read
// until a terminator), so a Modem is not safe for concurrent use. Callers
// must serialize all methods, typically with a mutex in the owning service.
type Modem struct {
	config  Config
	logger  *zap.Logger
	session *Session
	// port is the device path resolved by the last Connect
	port  string
	ready bool
}

// Exchange is one AT command round trip.
type Exchange struct {
	Command    string
	Terminator string
	Deadline   time.Time
	// Response is the text accumulated until the terminator or the deadline.
	Response string
	// Found reports whether Terminator appeared before the deadline.
	Found bool
}

// New creates a Modem from config. No I/O happens until Connect.
func New(config Config) (*Modem, error) {
	config.setDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Modem{
		config: config,
		logger: config.Logger.With(zap.String("component", "modem")),
	}, nil
}

// Config returns the configuration the modem was built with.
func (m *Modem) Config() Config {
	return m.config
}

// Port returns the device path of the current or last session.
func (m *Modem) Port() string {
	return m.port
}

// Connect resolves the port, opens the session, verifies that the modem
// answers and initializes it. On failure the session is closed again so a
// later Connect starts from scratch.
func (m *Modem) Connect(ctx context.Context) error {
	if m.session != nil {
		m.Disconnect()
	}

	port := m.config.Port
	if m.config.autoPort() {
		discovered, err := m.discover()
		if err != nil {
			return err
		}
		port = discovered
	}

	m.logger.Info("Connecting to modem", zap.String("port", port), zap.Int("baud_rate", m.config.BaudRate))

	session, err := Open(ctx, m.config.Dialer, port, m.config.BaudRate, m.config.Timeout, m.logger)
	if err != nil {
		return fmt.Errorf("open %s: %w", port, err)
	}
	m.session = session
	m.port = port

	if err := sleep(ctx, m.config.SettleDelay); err != nil {
		m.closeSession()
		return err
	}

	if err := m.probe(ctx); err != nil {
		m.closeSession()
		return err
	}

	if err := m.init(ctx); err != nil {
		m.closeSession()
		return fmt.Errorf("initialize modem: %w", err)
	}

	m.ready = true
	m.logger.Info("Modem connected", zap.String("port", port))
	return nil
}

// Disconnect closes the session and clears the ready state. It is safe to
// call on a disconnected modem.
func (m *Modem) Disconnect() error {
	m.ready = false
	if m.session == nil {
		return nil
	}
	err := m.session.Close()
	m.session = nil
	m.logger.Info("Modem disconnected", zap.String("port", m.port))
	return err
}

// IsReady reports whether Connect completed and the session is still open.
// The second check catches devices that disappeared since the last command.
func (m *Modem) IsReady() bool {
	return m.ready && m.session != nil && m.session.IsOpen()
}

// SendCommand writes command terminated by CR LF and returns whatever the
// modem answered until terminator showed up or timeout elapsed. A missing
// terminator is only logged; callers inspect the text themselves. An empty
// terminator means OK and a zero timeout the configured one.
//
// An I/O failure closes the session and returns ErrTransportLost.
func (m *Modem) SendCommand(ctx context.Context, command, terminator string, timeout time.Duration) (string, error) {
	ex, err := m.exchange(ctx, command, terminator, timeout)
	return ex.Response, err
}

func (m *Modem) exchange(ctx context.Context, command, terminator string, timeout time.Duration) (Exchange, error) {
	if terminator == "" {
		terminator = at.OK
	}
	if timeout <= 0 {
		timeout = m.config.Timeout
	}
	ex := Exchange{Command: command, Terminator: terminator}

	if m.session == nil {
		return ex, ErrNotConnected
	}

	if err := m.session.Write([]byte(command + at.CRLF)); err != nil {
		return ex, m.lost(err)
	}
	m.logger.Debug("Sent command", zap.String("command", command))

	ex.Deadline = time.Now().Add(timeout)
	resp, found, err := m.session.ReadUntil(ctx, ex.Deadline, terminator)
	ex.Response = strings.TrimSpace(resp)
	ex.Found = found
	if err != nil {
		return ex, m.lost(err)
	}

	if !found {
		m.logger.Warn("Timeout or unexpected response",
			zap.String("command", command),
			zap.String("terminator", terminator),
			zap.String("response", ex.Response),
		)
	}
	return ex, nil
}

// lost tears the session down after an I/O failure.
func (m *Modem) lost(err error) error {
	m.closeSession()
	return fmt.Errorf("%w: %w", ErrTransportLost, err)
}

func (m *Modem) closeSession() {
	m.ready = false
	if m.session != nil {
		m.session.Close()
		m.session = nil
	}
}

func (m *Modem) discover() (string, error) {
	ports, err := m.config.PortLister.ListPorts()
	if err != nil {
		m.logger.Warn("Failed to list serial ports", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrNoModemFound, err)
	}
	for _, p := range ports {
		m.logger.Debug("Found port", zap.String("port", p.descriptor()))
	}

	port, ok := DiscoverPort(ports)
	if !ok {
		m.logger.Warn("No USB modem found", zap.Int("ports", len(ports)))
		return "", ErrNoModemFound
	}
	m.logger.Info("Possible modem found", zap.String("port", port))
	return port, nil
}

// probe checks that the modem answers a bare AT with OK.
func (m *Modem) probe(ctx context.Context) error {
	ex, err := m.exchange(ctx, at.CmdAt, at.OK, 0)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrModemNotResponding, err)
	}
	if !ex.Found {
		return fmt.Errorf("%w: got %q", ErrModemNotResponding, ex.Response)
	}
	return nil
}

// init performs the setup sequence after the probe. Only transport failures
// abort it; a SIM that is not ready or a missing network registration are
// logged, so the modem stays usable for diagnostics.
func (m *Modem) init(ctx context.Context) error {
	m.logger.Info("Initializing modem")

	for _, cmd := range []string{at.CmdEchoOff, at.CmdSetTextMode, at.CmdCharsetGSM} {
		ex, err := m.exchange(ctx, cmd, at.OK, 0)
		if err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
		if !ex.Found {
			m.logger.Warn("Command not acknowledged", zap.String("command", cmd))
		}
	}

	if err := m.checkSIM(ctx); err != nil {
		return err
	}

	if err := m.waitForRegistration(ctx, m.config.Registration); err != nil {
		return err
	}

	m.logger.Info("Modem initialization complete")
	return nil
}

// checkSIM queries the SIM state and unlocks it when a PIN is configured.
func (m *Modem) checkSIM(ctx context.Context) error {
	ex, err := m.exchange(ctx, at.CmdSimStatus, at.OK, 0)
	if err != nil {
		return fmt.Errorf("query SIM status: %w", err)
	}

	switch {
	case strings.Contains(ex.Response, at.SimReady):
		return nil

	case strings.Contains(ex.Response, at.SimPin) && m.config.SimPIN != "":
		m.logger.Info("SIM requires PIN, unlocking")
		unlock, err := m.exchange(ctx, at.EnterPIN(m.config.SimPIN), at.OK, 0)
		if err != nil {
			return fmt.Errorf("enter SIM PIN: %w", err)
		}
		if !unlock.Found {
			m.logger.Warn("SIM PIN not accepted", zap.String("response", unlock.Response))
		}
		return nil

	default:
		m.logger.Warn("SIM card not ready", zap.String("response", ex.Response))
		return nil
	}
}

// waitForRegistration polls AT+CREG? until the modem reports home network or
// roaming. Running out of attempts is only a warning; transport failures
// and a done ctx are returned.
func (m *Modem) waitForRegistration(ctx context.Context, config PollConfig) error {
	for attempt := 1; attempt <= config.MaxRetries; attempt++ {
		ex, err := m.exchange(ctx, at.CmdRegistration, at.OK, 0)
		if err != nil {
			return fmt.Errorf("query network registration: %w", err)
		}
		if at.Registered(ex.Response) {
			m.logger.Info("Registered in network", zap.Int("attempt", attempt))
			return nil
		}

		m.logger.Info("Waiting for network registration",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", config.MaxRetries),
		)
		if attempt < config.MaxRetries {
			if err := sleep(ctx, config.Interval); err != nil {
				return err
			}
		}
	}

	m.logger.Warn("Network registration not confirmed", zap.Int("attempts", config.MaxRetries))
	return nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsTransportLost reports whether err means the session had to be dropped.
func IsTransportLost(err error) bool {
	return errors.Is(err, ErrTransportLost)
}
