package ingest

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/config"
)

// Connect подключается к брокеру и подписывает процессор на топик.
// Подписка повторяется при каждом переподключении.
func Connect(cfg config.MQTTConfig, p *Processor) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" && cfg.Password != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetCleanSession(false)

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		_ = p.Handle(msg.Topic(), msg.Payload())
	}
	opts.OnConnect = func(client mqtt.Client) {
		token := client.Subscribe(cfg.Topic, byte(cfg.QoS), handler)
		if token.Wait() && token.Error() != nil {
			slog.Error("MQTT subscribe failed", "topic", cfg.Topic, "error", token.Error())
			return
		}
		slog.Info("MQTT subscribed", "broker", cfg.Broker, "topic", cfg.Topic)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("MQTT connection lost", "error", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15*time.Second) {
		return client, fmt.Errorf("mqtt connect to %s: timeout, retrying in background", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	return client, nil
}
