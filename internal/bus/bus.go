package bus

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New selects the bus implementation for the configured tier:
// in-process channels for community, NATS for pro.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
