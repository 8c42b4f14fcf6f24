package broker

import (
	"fmt"
	"time"

	"github.com/Valleeh/podcleaner/internal/config"
)

// New selects the bus implementation from configuration.
func New(cfg config.MessageBroker) (Bus, error) {
	switch cfg.Type {
	case "in_memory":
		return NewInMemoryBus(), nil
	case "mqtt":
		return NewMQTTBus(cfg.MQTT, 10*time.Second), nil
	default:
		return nil, fmt.Errorf("unknown message broker type %q", cfg.Type)
	}
}
