package broker

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/Valleeh/podcleaner/internal/config"
)

// MQTTBus carries messages over an external MQTT broker so workers can run
// in separate processes. Messages travel as JSON-encoded envelopes.
type MQTTBus struct {
	client         mqtt.Client
	connectTimeout time.Duration

	mu       sync.RWMutex
	handlers map[string][]Handler
	running  bool
}

// NewMQTTBus builds a bus for the configured broker. Start establishes the
// connection.
func NewMQTTBus(cfg config.MQTT, connectTimeout time.Duration) *MQTTBus {
	b := &MQTTBus{
		connectTimeout: connectTimeout,
		handlers:       make(map[string][]Handler),
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "podcleaner-" + uuid.NewString()
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(b.onConnectionLost)
	if cfg.Username != "" && cfg.Password != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	b.client = mqtt.NewClient(opts)
	return b
}

// onConnect resubscribes every known topic; it runs on the initial connect
// and on every reconnect.
func (b *MQTTBus) onConnect(client mqtt.Client) {
	b.mu.RLock()
	topics := make([]string, 0, len(b.handlers))
	for topic := range b.handlers {
		topics = append(topics, topic)
	}
	b.mu.RUnlock()

	slog.Info("mqtt connected")
	for _, topic := range topics {
		if token := client.Subscribe(topic, 0, b.onMessage); token.Wait() && token.Error() != nil {
			slog.Error("mqtt resubscribe failed", "topic", topic, "error", token.Error())
			continue
		}
		slog.Debug("mqtt subscribed", "topic", topic)
	}
}

func (b *MQTTBus) onConnectionLost(_ mqtt.Client, err error) {
	b.mu.RLock()
	running := b.running
	b.mu.RUnlock()
	if running {
		slog.Warn("mqtt connection lost, reconnecting", "error", err)
	}
}

// onMessage decodes the envelope and fans it out to the topic's handlers.
// Handler panics are recovered so a bad handler cannot kill the network
// loop or starve its peers.
func (b *MQTTBus) onMessage(_ mqtt.Client, raw mqtt.Message) {
	var msg Message
	if err := json.Unmarshal(raw.Payload(), &msg); err != nil {
		slog.Error("mqtt message decode failed", "topic", raw.Topic(), "error", err)
		return
	}

	b.mu.RLock()
	handlers := b.handlers[raw.Topic()]
	b.mu.RUnlock()

	slog.Debug("mqtt message received", "topic", raw.Topic(), "message_id", msg.MessageID)
	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("mqtt subscriber panicked", "topic", raw.Topic(), "message_id", msg.MessageID, "panic", r)
				}
			}()
			handler(msg)
		}()
	}
}

// Publish serializes the message as JSON and hands it to the broker.
func (b *MQTTBus) Publish(msg Message) error {
	b.mu.RLock()
	running := b.running
	b.mu.RUnlock()
	if !running {
		slog.Warn("mqtt bus not running, dropping message", "topic", msg.Topic)
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message for %s: %w", msg.Topic, err)
	}
	token := b.client.Publish(msg.Topic, 0, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("publish to %s: %w", msg.Topic, token.Error())
	}
	slog.Debug("mqtt message published", "topic", msg.Topic, "message_id", msg.MessageID)
	return nil
}

// Subscribe registers a handler; the broker subscription is made immediately
// when connected, otherwise on the next (re)connect.
func (b *MQTTBus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	_, known := b.handlers[topic]
	b.handlers[topic] = append(b.handlers[topic], handler)
	running := b.running
	b.mu.Unlock()

	if running && !known {
		if token := b.client.Subscribe(topic, 0, b.onMessage); token.Wait() && token.Error() != nil {
			slog.Error("mqtt subscribe failed", "topic", topic, "error", token.Error())
		}
	}
	slog.Debug("subscribed to topic", "topic", topic)
}

// Start connects to the broker and begins the network loop.
func (b *MQTTBus) Start() error {
	token := b.client.Connect()
	if !token.WaitTimeout(b.connectTimeout) {
		return fmt.Errorf("connect to mqtt broker: timeout after %s", b.connectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to mqtt broker: %w", err)
	}

	b.mu.Lock()
	b.running = true
	b.mu.Unlock()
	slog.Info("message bus started", "broker_type", "mqtt")
	return nil
}

// Stop disconnects from the broker.
func (b *MQTTBus) Stop() error {
	b.mu.Lock()
	running := b.running
	b.running = false
	b.mu.Unlock()

	if running {
		b.client.Disconnect(250)
		slog.Info("message bus stopped", "broker_type", "mqtt")
	}
	return nil
}
