package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"wildkamera.app/smsgw/modem"
)

func main() {
	configFile := flag.String("config", "", "Path to a YAML config file")
	flag.String("serial-port", "auto", "Serial port of the modem, or \"auto\" to search for one")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("bind-address", "0.0.0.0:8000", "Bind address for the HTTP server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("sim-pin", "", "SIM card PIN code (if required)")
	flag.String("mqtt-broker", "", "MQTT broker URL, empty disables MQTT intake")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithFile(*configFile), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := NewLogger(config.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(config, logger); err != nil {
		logger.Error("SMS gateway failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(config *Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateway := NewGateway(modemFactory(config.Modem, logger), modem.PortListerFunc(modem.ListAvailablePorts), logger)
	queue := NewQueue(config.Queue, gateway, logger)

	logger.Info("Starting SMS gateway",
		zap.String("port", config.Modem.Port),
		zap.Bool("mqtt", config.MQTT.Broker != ""),
	)

	// A missing modem is not fatal; it can be configured through the API.
	if err := gateway.Connect(ctx, startupSettings(config.Modem)); err != nil {
		logger.Warn("Modem not available at startup, server keeps running", zap.Error(err))
	}

	go queue.Run(ctx)

	if config.MQTT.Broker != "" {
		intake := NewMQTTIntake(config.MQTT, queue, logger)
		if err := intake.Start(ctx); err != nil {
			logger.Error("MQTT intake disabled", zap.Error(err))
		}
	}

	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:    config.Server.BindAddress,
		Handler: NewServer(gateway, queue, config.Server.Token, logger).Router(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			gateway.Close()
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to gracefully shutdown server", zap.Error(err))
	}

	logger.Info("Closing modem connection")
	if err := gateway.Close(); err != nil {
		logger.Error("Failed to close modem", zap.Error(err))
	}

	if n := queue.Pending(); n > 0 {
		logger.Warn("Dropping queued SMS", zap.Int("pending", n))
	}
	return nil
}
