package emulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/config"
)

const publishTimeout = 2 * time.Second

type MQTTPublisher struct {
	client mqtt.Client
	qos    byte
}

// NewMQTTPublisher подключается к брокеру отдельным client id, чтобы не
// выбить подписку сервера
func NewMQTTPublisher(cfg config.MQTTConfig) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is not configured")
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(fmt.Sprintf("%s-emulator-%d", cfg.ClientID, time.Now().Unix()))
	if cfg.Username != "" && cfg.Password != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.OnConnect = func(mqtt.Client) {
		slog.Info("Emulator connected to MQTT broker", "broker", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("Emulator lost MQTT connection", "error", err)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, token.Error())
	}
	return &MQTTPublisher{client: client, qos: byte(cfg.QoS)}, nil
}

func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return errors.New("mqtt publish timeout")
	}
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
