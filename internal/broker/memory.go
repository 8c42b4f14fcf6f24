package broker

import (
	"log/slog"
	"sync"
)

// InMemoryBus delivers messages synchronously on the publisher's goroutine,
// in subscription order. It is the development, test and single-binary
// transport.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	running  bool
}

// NewInMemoryBus creates a stopped in-process bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{handlers: make(map[string][]Handler)}
}

// Publish fans the message out to the topic's handlers. Publishing on a
// stopped bus is a no-op with a warning. A panicking handler is recovered
// and logged so it cannot disrupt the remaining handlers.
func (b *InMemoryBus) Publish(msg Message) error {
	b.mu.RLock()
	running := b.running
	handlers := b.handlers[msg.Topic]
	b.mu.RUnlock()

	if !running {
		slog.Warn("message bus not running, dropping message", "topic", msg.Topic)
		return nil
	}

	slog.Debug("publishing message", "topic", msg.Topic, "message_id", msg.MessageID)
	for _, handler := range handlers {
		b.deliver(handler, msg)
	}
	return nil
}

func (b *InMemoryBus) deliver(handler Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("subscriber panicked", "topic", msg.Topic, "message_id", msg.MessageID, "panic", r)
		}
	}()
	handler(msg)
}

// Subscribe registers a handler for a topic.
func (b *InMemoryBus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
	slog.Debug("subscribed to topic", "topic", topic)
}

// Start enables delivery.
func (b *InMemoryBus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = true
	slog.Info("message bus started", "broker_type", "in_memory")
	return nil
}

// Stop disables delivery.
func (b *InMemoryBus) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
	slog.Info("message bus stopped", "broker_type", "in_memory")
	return nil
}
