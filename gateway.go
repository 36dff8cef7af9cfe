package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"wildkamera.app/smsgw/modem"
)

// Driver is the part of *modem.Modem the gateway uses.
type Driver interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsReady() bool
	Port() string
	SendSMS(ctx context.Context, recipient, message string) (bool, error)
	Info(ctx context.Context) map[string]string
}

// ModemSettings are the connection parameters that can change at runtime.
type ModemSettings struct {
	Port     string
	BaudRate int
	Timeout  time.Duration
}

// DriverFactory creates an unconnected driver for settings.
type DriverFactory func(settings ModemSettings) (Driver, error)

// Message is one SMS to send.
type Message struct {
	PhoneNumber string
	Text        string
}

// Gateway owns the modem driver and serializes all access to it. The driver
// correlates answers with commands by ordering alone, so at most one
// operation may be in flight.
type Gateway struct {
	logger  *zap.Logger
	factory DriverFactory
	lister  modem.PortLister

	mu     sync.Mutex
	driver Driver
}

func NewGateway(factory DriverFactory, lister modem.PortLister, logger *zap.Logger) *Gateway {
	return &Gateway{
		logger:  logger.With(zap.String("component", "gateway")),
		factory: factory,
		lister:  lister,
	}
}

// Connect replaces the current driver by one for settings and connects it.
// The new driver is kept even if Connect fails, so Status reports it as
// disconnected until the next successful Connect.
func (g *Gateway) Connect(ctx context.Context, settings ModemSettings) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connect(ctx, settings)
}

func (g *Gateway) connect(ctx context.Context, settings ModemSettings) error {
	if g.driver != nil {
		if err := g.driver.Disconnect(); err != nil {
			g.logger.Warn("Failed to disconnect previous modem", zap.Error(err))
		}
		g.driver = nil
	}

	driver, err := g.factory(settings)
	if err != nil {
		return fmt.Errorf("create modem driver: %w", err)
	}
	g.driver = driver

	if err := driver.Connect(ctx); err != nil {
		g.logger.Error("Failed to connect modem", zap.String("port", settings.Port), zap.Error(err))
		return err
	}
	g.logger.Info("Modem ready", zap.String("port", driver.Port()))
	return nil
}

// Configure reconnects with settings and returns the modem information.
func (g *Gateway) Configure(ctx context.Context, settings ModemSettings) (map[string]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.connect(ctx, settings); err != nil {
		return nil, err
	}
	return g.driver.Info(ctx), nil
}

// Status reports whether the modem is ready and, if so, its information.
func (g *Gateway) Status(ctx context.Context) (bool, map[string]string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.ready() {
		return false, nil
	}
	return true, g.driver.Info(ctx)
}

// Send sends one SMS. It returns modem.ErrNotConnected when no modem is
// ready.
func (g *Gateway) Send(ctx context.Context, phoneNumber, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.send(ctx, phoneNumber, text)
}

func (g *Gateway) send(ctx context.Context, phoneNumber, text string) error {
	if !g.ready() {
		return modem.ErrNotConnected
	}
	ok, err := g.driver.SendSMS(ctx, phoneNumber, text)
	if err != nil {
		return err
	}
	if !ok {
		return modem.ErrSendRejected
	}
	return nil
}

// SendBatch sends messages one after another without letting other
// operations in between. The result has one entry per message, nil for
// success. The error is modem.ErrNotConnected when no modem is ready at the
// start; a modem lost halfway fails the remaining entries.
func (g *Gateway) SendBatch(ctx context.Context, messages []Message) ([]error, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.ready() {
		return nil, modem.ErrNotConnected
	}

	results := make([]error, len(messages))
	for i, msg := range messages {
		results[i] = g.send(ctx, msg.PhoneNumber, msg.Text)
		if results[i] != nil {
			g.logger.Warn("Batch message failed",
				zap.Int("index", i),
				zap.String("to", msg.PhoneNumber),
				zap.Error(results[i]),
			)
		}
	}
	return results, nil
}

// Ports lists the serial ports of the host.
func (g *Gateway) Ports() ([]modem.PortDescriptor, error) {
	return g.lister.ListPorts()
}

// Close disconnects the modem.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.driver == nil {
		return nil
	}
	err := g.driver.Disconnect()
	g.driver = nil
	return err
}

func (g *Gateway) ready() bool {
	return g.driver != nil && g.driver.IsReady()
}

// modemFactory creates serial modem drivers. Settings from the API override
// port, baud rate and timeout of cfg.
func modemFactory(cfg ModemConfig, logger *zap.Logger) DriverFactory {
	return func(settings ModemSettings) (Driver, error) {
		config, err := modem.NewConfigBuilder().
			WithPort(settings.Port).
			WithBaudRate(settings.BaudRate).
			WithTimeout(settings.Timeout).
			WithSettleDelay(cfg.SettleDelay).
			WithPollInterval(cfg.PollInterval).
			WithSMSTimeout(cfg.SMSTimeout).
			WithRegistration(modem.PollConfig{
				Interval:   cfg.RegistrationInterval,
				MaxRetries: cfg.RegistrationRetries,
			}).
			WithSimPIN(cfg.SimPIN).
			WithDialer(modem.SerialDialer{}).
			WithLogger(logger).
			Build()
		if err != nil {
			return nil, err
		}
		m, err := modem.New(config)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

// startupSettings are the connection parameters from the config file.
func startupSettings(cfg ModemConfig) ModemSettings {
	return ModemSettings{
		Port:     cfg.Port,
		BaudRate: cfg.BaudRate,
		Timeout:  cfg.Timeout,
	}
}
