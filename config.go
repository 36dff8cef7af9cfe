package main

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Modem   ModemConfig   `mapstructure:"modem"`
	Logging LoggingConfig `mapstructure:"logging"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Queue   QueueConfig   `mapstructure:"queue"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8000")
	BindAddress string `mapstructure:"bind_address"`
	// Token, if set, is required as "Authorization: Bearer <token>" on the
	// /sms and /modem routes
	Token           string        `mapstructure:"token"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ModemConfig configures the modem connection made at startup
type ModemConfig struct {
	// Port is the serial device of the modem, or "auto" to search for one
	Port                 string        `mapstructure:"port"`
	BaudRate             int           `mapstructure:"baud_rate"`
	Timeout              time.Duration `mapstructure:"timeout"`
	SMSTimeout           time.Duration `mapstructure:"sms_timeout"`
	SettleDelay          time.Duration `mapstructure:"settle_delay"`
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	RegistrationInterval time.Duration `mapstructure:"registration_interval"`
	RegistrationRetries  int           `mapstructure:"registration_retries"`
	// SimPIN is the SIM card PIN code
	SimPIN string `mapstructure:"sim_pin"`
}

// LoggingConfig configures the zap logger
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// Output is "stdout", "stderr" or a file path rotated by lumberjack
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// MQTTConfig configures the optional MQTT intake. An empty Broker disables it.
type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	QoS      byte   `mapstructure:"qos"`
}

// QueueConfig configures the asynchronous send queue
type QueueConfig struct {
	Size          int           `mapstructure:"size"`
	RatePerMinute int           `mapstructure:"rate_per_minute"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// ConfigOption is a function that modifies the configuration source
type ConfigOption func(*viper.Viper) error

// LoadConfig creates a new config by applying the given options in order.
// Precedence among the sources is viper's: flags over environment over file
// over defaults.
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	v := viper.New()

	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(v *viper.Viper) error {
		v.SetDefault("server.bind_address", "0.0.0.0:8000")
		v.SetDefault("server.token", "")
		v.SetDefault("server.shutdown_timeout", 30*time.Second)

		v.SetDefault("modem.port", "auto")
		v.SetDefault("modem.baud_rate", 115200)
		v.SetDefault("modem.timeout", 10*time.Second)
		v.SetDefault("modem.sms_timeout", 30*time.Second)
		v.SetDefault("modem.settle_delay", time.Second)
		v.SetDefault("modem.poll_interval", 100*time.Millisecond)
		v.SetDefault("modem.registration_interval", 2*time.Second)
		v.SetDefault("modem.registration_retries", 10)
		v.SetDefault("modem.sim_pin", "")

		v.SetDefault("logging.level", "info")
		v.SetDefault("logging.format", "json")
		v.SetDefault("logging.output", "stderr")
		v.SetDefault("logging.max_size", 10)
		v.SetDefault("logging.max_backups", 5)
		v.SetDefault("logging.max_age", 30)
		v.SetDefault("logging.compress", true)

		v.SetDefault("mqtt.broker", "")
		v.SetDefault("mqtt.client_id", "smsgw")
		v.SetDefault("mqtt.topic", "sms/send")
		v.SetDefault("mqtt.username", "")
		v.SetDefault("mqtt.password", "")
		v.SetDefault("mqtt.qos", 1)

		v.SetDefault("queue.size", 1024)
		v.SetDefault("queue.rate_per_minute", 30)
		v.SetDefault("queue.max_retries", 3)
		v.SetDefault("queue.retry_delay", 800*time.Millisecond)
		return nil
	}
}

// WithFile reads a YAML config file. An empty path is skipped.
func WithFile(path string) ConfigOption {
	return func(v *viper.Viper) error {
		if path == "" {
			return nil
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables, e.g.
// SMSGW_MODEM_PORT for modem.port
func WithEnv() ConfigOption {
	return func(v *viper.Viper) error {
		v.SetEnvPrefix("SMSGW")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
		return nil
	}
}

// flagKeys maps command-line flags to config keys
var flagKeys = map[string]string{
	"bind-address": "server.bind_address",
	"serial-port":  "modem.port",
	"baud-rate":    "modem.baud_rate",
	"log-level":    "logging.level",
	"sim-pin":      "modem.sim_pin",
	"mqtt-broker":  "mqtt.broker",
}

// WithFlags loads configuration from command-line flags that were set
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(v *viper.Viper) error {
		fSet.Visit(func(f *flag.Flag) {
			if key, ok := flagKeys[f.Name]; ok {
				v.Set(key, f.Value.String())
			}
		})
		return nil
	}
}

func (c *Config) validate() error {
	var errs []error

	if c.Server.BindAddress == "" {
		errs = append(errs, errors.New("server.bind_address is required"))
	}
	if c.Modem.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("modem.baud_rate must be positive, got %d", c.Modem.BaudRate))
	}
	if c.Modem.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("modem.timeout must be positive, got %v", c.Modem.Timeout))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level: %s", c.Logging.Level))
	}
	if c.Queue.Size <= 0 {
		errs = append(errs, fmt.Errorf("queue.size must be positive, got %d", c.Queue.Size))
	}
	if c.Queue.RatePerMinute <= 0 {
		errs = append(errs, fmt.Errorf("queue.rate_per_minute must be positive, got %d", c.Queue.RatePerMinute))
	}
	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		errs = append(errs, errors.New("mqtt.topic is required when mqtt.broker is set"))
	}

	return errors.Join(errs...)
}
