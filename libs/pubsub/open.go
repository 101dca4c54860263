package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nexaledger/platform/libs/config"
	"github.com/nexaledger/platform/libs/redisx"
)

const (
	DriverRedis  = "redis"
	DriverKafka  = "kafka"
	DriverMemory = "memory"
)

type Config struct {
	Driver       string
	RedisURL     string
	KafkaBrokers string
}

// ConfigFromEnv reads TRANSPORT_DRIVER, REDIS_URL and KAFKA_BROKERS.
func ConfigFromEnv() Config {
	return Config{
		Driver:       config.String("TRANSPORT_DRIVER", DriverRedis),
		RedisURL:     config.String("REDIS_URL", "redis://localhost:6379/0"),
		KafkaBrokers: config.String("KAFKA_BROKERS", ""),
	}
}

// Open builds the transport selected by cfg.Driver (redis when empty).
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverRedis:
		rdb, err := redisx.Open(ctx, redisx.Config{URL: cfg.RedisURL})
		if err != nil {
			return nil, err
		}
		return NewRedisTransport(rdb, logger), nil
	case DriverKafka:
		return NewKafkaTransport(cfg.KafkaBrokers, logger)
	case DriverMemory:
		return NewMemoryTransport(), nil
	default:
		return nil, fmt.Errorf("unknown transport driver %q", cfg.Driver)
	}
}
