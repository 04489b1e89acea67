package main

import (
	"context"
	"errors"
	"log/slog"

	"ordersaga/cmd/server/config"
	"ordersaga/internal/event"
	"ordersaga/internal/transport"
	kafkatransport "ordersaga/internal/transport/kafka"
	"ordersaga/internal/transport/memory"
)

// messaging hands out publishers and subscribers for the configured transport.
type messaging struct {
	bus        *memory.Bus
	kafka      kafkatransport.Config
	partitions int
	producer   *kafkatransport.Producer
	logger     *slog.Logger
}

func newMessaging(app config.AppConfig, logger *slog.Logger) (*messaging, error) {
	if app.Transport == config.TransportMemory {
		return &messaging{bus: memory.NewBus(), logger: logger}, nil
	}

	cfg, err := config.LoadKafka(app.Role + "-service")
	if err != nil {
		return nil, err
	}
	kcfg := kafkatransport.Config{
		Brokers:      cfg.Brokers,
		GroupID:      cfg.GroupID,
		TopicPrefix:  cfg.TopicPrefix,
		DialTimeout:  cfg.DialTimeout,
		BatchTimeout: cfg.BatchTimeout,
	}
	producer, err := kafkatransport.NewProducer(kcfg)
	if err != nil {
		return nil, err
	}
	return &messaging{kafka: kcfg, partitions: cfg.Partitions, producer: producer, logger: logger}, nil
}

// Connect verifies the brokers answer and creates missing topics.
func (m *messaging) Connect(ctx context.Context) error {
	if m.bus != nil {
		return nil
	}
	if err := kafkatransport.Ping(ctx, m.kafka); err != nil {
		return err
	}
	return kafkatransport.EnsureTopics(ctx, m.kafka, m.partitions, event.Topics()...)
}

func (m *messaging) Publisher() transport.Publisher {
	if m.bus != nil {
		return m.bus
	}
	return m.producer
}

func (m *messaging) Subscribe(topics ...event.Topic) (transport.Subscriber, error) {
	if m.bus != nil {
		return m.bus.Subscribe(topics...), nil
	}
	return kafkatransport.NewSubscriber(m.kafka, topics...)
}

// Check reports whether the transport is reachable.
func (m *messaging) Check(ctx context.Context) error {
	if m.bus != nil {
		return nil
	}
	return kafkatransport.Ping(ctx, m.kafka)
}

func (m *messaging) Close() error {
	if m.producer == nil {
		return nil
	}
	if err := m.producer.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
