package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// mqttSource subscribes to JSON records published on one topic. Messages
// arrive on paho's callback goroutine and are applied in arrival order.
type mqttSource struct {
	broker string
	topic  string
	qos    byte
	logger *log.Logger
}

func (s *mqttSource) run(ctx context.Context, f *feeder) error {
	logger := s.logger.WithPrefix("mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.broker)
	opts.SetClientID("chat-trending-" + uuid.NewString())
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetOrderMatters(true)

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		f.waitIfPaused()
		f.applyJSON(msg.Payload(), time.Now())
	}
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		logger.Info("connected, subscribing", "topic", s.topic)
		token := client.Subscribe(s.topic, s.qos, handler)
		if token.Wait() && token.Error() != nil {
			logger.Error("subscribe failed", "topic", s.topic, "err", token.Error())
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("connection lost, reconnecting", "err", err)
	})

	client := mqtt.NewClient(opts)
	logger.Info("connecting", "broker", s.broker)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	defer client.Disconnect(250)

	<-ctx.Done()
	return nil
}
