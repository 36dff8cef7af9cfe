package modem

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

// AutoPort asks Connect to pick the port through auto-discovery.
const AutoPort = "auto"

// PollConfig defines configuration for polling operations like waiting for
// network registration.
type PollConfig struct {
	// Interval is the time between polling attempts
	Interval time.Duration
	// MaxRetries is the maximum number of polling attempts
	MaxRetries int
}

type Config struct {
	// Port is the device path. Empty or AutoPort enables auto-discovery.
	Port     string
	BaudRate int
	// Timeout bounds every ordinary AT exchange.
	Timeout time.Duration
	// SettleDelay is waited after opening the device before the first probe.
	SettleDelay time.Duration
	// PollInterval is the read step of the serial transport.
	PollInterval time.Duration
	// SMSTimeout bounds the wait for the network to accept a message.
	SMSTimeout   time.Duration
	Registration PollConfig
	SimPIN       string

	Dialer     Dialer
	PortLister PortLister
	Logger     *zap.Logger
}

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = 115200
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if d, ok := c.Dialer.(SerialDialer); ok && d.PollInterval == 0 {
		d.PollInterval = c.PollInterval
		c.Dialer = d
	}
	if c.SMSTimeout == 0 {
		c.SMSTimeout = 30 * time.Second
	}
	if c.Registration.Interval == 0 {
		c.Registration.Interval = 2 * time.Second
	}
	if c.Registration.MaxRetries == 0 {
		c.Registration.MaxRetries = 10
	}
	if c.PortLister == nil {
		c.PortLister = SerialPortLister{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

func (c *Config) autoPort() bool {
	return c.Port == "" || strings.EqualFold(c.Port, AutoPort)
}

// ConfigBuilder assembles a Config step by step.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithPort(port string) *ConfigBuilder {
	b.config.Port = port
	return b
}

func (b *ConfigBuilder) WithBaudRate(baud int) *ConfigBuilder {
	b.config.BaudRate = baud
	return b
}

func (b *ConfigBuilder) WithTimeout(d time.Duration) *ConfigBuilder {
	b.config.Timeout = d
	return b
}

func (b *ConfigBuilder) WithSettleDelay(d time.Duration) *ConfigBuilder {
	b.config.SettleDelay = d
	return b
}

func (b *ConfigBuilder) WithPollInterval(d time.Duration) *ConfigBuilder {
	b.config.PollInterval = d
	return b
}

func (b *ConfigBuilder) WithSMSTimeout(d time.Duration) *ConfigBuilder {
	b.config.SMSTimeout = d
	return b
}

func (b *ConfigBuilder) WithRegistration(poll PollConfig) *ConfigBuilder {
	b.config.Registration = poll
	return b
}

func (b *ConfigBuilder) WithSimPIN(pin string) *ConfigBuilder {
	b.config.SimPIN = pin
	return b
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

func (b *ConfigBuilder) WithPortLister(l PortLister) *ConfigBuilder {
	b.config.PortLister = l
	return b
}

func (b *ConfigBuilder) WithLogger(l *zap.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

// Build applies defaults and validates the configuration.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	c.setDefaults()
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
