package main

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Enqueuer accepts jobs for asynchronous sending.
type Enqueuer interface {
	Enqueue(job Job) (string, error)
}

// MQTTIntake subscribes to a topic and queues the SMS requests published on
// it. Payloads are JSON objects like the body of POST /sms/send.
type MQTTIntake struct {
	cfg    MQTTConfig
	queue  Enqueuer
	logger *zap.Logger
	client mqtt.Client
}

func NewMQTTIntake(cfg MQTTConfig, queue Enqueuer, logger *zap.Logger) *MQTTIntake {
	return &MQTTIntake{
		cfg:    cfg,
		queue:  queue,
		logger: logger.With(zap.String("component", "mqtt")),
	}
}

// Start connects to the broker. The subscription is (re)made on every
// connect; the client reconnects on its own until ctx is done.
func (i *MQTTIntake) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(i.cfg.Broker)
	opts.SetClientID(i.cfg.ClientID)
	if i.cfg.Username != "" {
		opts.SetUsername(i.cfg.Username)
		opts.SetPassword(i.cfg.Password)
	}
	opts.SetOrderMatters(false)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		i.logger.Warn("MQTT connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		i.logger.Info("MQTT connected, subscribing", zap.String("topic", i.cfg.Topic))
		token := c.Subscribe(i.cfg.Topic, i.cfg.QoS, i.handleMessage)
		if token.Wait() && token.Error() != nil {
			i.logger.Error("MQTT subscribe failed", zap.String("topic", i.cfg.Topic), zap.Error(token.Error()))
		}
	})

	i.client = mqtt.NewClient(opts)
	token := i.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to MQTT broker %s: %w", i.cfg.Broker, err)
	}

	go func() {
		<-ctx.Done()
		i.Stop()
	}()
	return nil
}

// Stop disconnects from the broker.
func (i *MQTTIntake) Stop() {
	if i.client != nil && i.client.IsConnected() {
		i.client.Disconnect(500)
	}
}

func (i *MQTTIntake) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	var req SMSRequest
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		i.logger.Warn("Invalid MQTT payload", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	if req.PhoneNumber == "" || req.Message == "" {
		i.logger.Warn("MQTT payload without phone_number or message", zap.String("topic", msg.Topic()))
		return
	}
	if err := req.validate(); err != nil {
		i.logger.Warn("Rejected MQTT request", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}

	id, err := i.queue.Enqueue(req.job())
	if err != nil {
		i.logger.Error("Failed to queue MQTT request", zap.String("to", req.PhoneNumber), zap.Error(err))
		return
	}
	i.logger.Info("Queued SMS from MQTT", zap.String("id", id), zap.String("to", req.PhoneNumber))
}
