package events

import (
	"context"
	"fmt"
	"strings"

	"github.com/codi-dev/codi/internal/common/config"
	"github.com/codi-dev/codi/internal/common/logger"
	"github.com/codi-dev/codi/internal/events/bus"
)

// Provide builds the configured bus implementation: Redis when
// redis.addr is set, NATS when nats.url is set, otherwise in-memory.
// Redis wins if both are configured.
func Provide(ctx context.Context, cfg *config.Config, log *logger.Logger) (bus.EventBus, func(), error) {
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		redisBus, err := bus.NewRedisEventBus(ctx, cfg.Redis, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize redis event bus: %w", err)
		}
		return redisBus, redisBus.Close, nil
	}

	if strings.TrimSpace(cfg.NATS.URL) != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize NATS event bus: %w", err)
		}
		return natsBus, natsBus.Close, nil
	}

	memBus := bus.NewMemoryEventBus(log)
	return memBus, memBus.Close, nil
}
