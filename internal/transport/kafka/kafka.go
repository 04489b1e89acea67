// Package kafka adapts segmentio/kafka-go to the transport interfaces.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"ordersaga/internal/event"
	"ordersaga/internal/transport"

	kafkago "github.com/segmentio/kafka-go"
)

// ErrNoBrokers is returned when no broker address is configured.
var ErrNoBrokers = errors.New("kafka: at least one broker is required")

// Config holds broker connection settings shared by producers and subscribers.
type Config struct {
	Brokers      []string
	GroupID      string
	TopicPrefix  string
	DialTimeout  time.Duration
	BatchTimeout time.Duration
}

func (c Config) topicName(topic event.Topic) string {
	return c.TopicPrefix + string(topic)
}

func (c Config) dialer() *kafkago.Dialer {
	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &kafkago.Dialer{Timeout: timeout, DualStack: true}
}

// Producer publishes messages with a kafka-go Writer.
type Producer struct {
	cfg    Config
	writer *kafkago.Writer
}

// NewProducer constructs a Producer. Messages are hashed by key so every
// event of one transaction lands on the same partition.
func NewProducer(cfg Config) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	batch := cfg.BatchTimeout
	if batch <= 0 {
		batch = 10 * time.Millisecond
	}
	return &Producer{
		cfg: cfg,
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(cfg.Brokers...),
			Balancer:               &kafkago.Hash{},
			RequiredAcks:           kafkago.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           batch,
		},
	}, nil
}

// Publish writes msg to its topic.
func (p *Producer) Publish(ctx context.Context, msg transport.Message) error {
	if err := p.writer.WriteMessages(ctx, toKafka(p.cfg, msg)); err != nil {
		return fmt.Errorf("kafka publish %s: %w", msg.Topic, err)
	}
	return nil
}

// Close flushes pending writes.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Subscriber reads from a consumer group spanning several topics.
type Subscriber struct {
	cfg    Config
	reader *kafkago.Reader
}

// NewSubscriber joins cfg.GroupID for topics.
func NewSubscriber(cfg Config, topics ...event.Topic) (*Subscriber, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("kafka: group id is required")
	}
	if len(topics) == 0 {
		return nil, errors.New("kafka: at least one topic is required")
	}
	names := make([]string, 0, len(topics))
	for _, topic := range topics {
		names = append(names, cfg.topicName(topic))
	}
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: names,
		Dialer:      cfg.dialer(),
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	})
	return &Subscriber{cfg: cfg, reader: reader}, nil
}

// Fetch returns the next message without committing it.
func (s *Subscriber) Fetch(ctx context.Context) (transport.Message, error) {
	m, err := s.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return transport.Message{}, transport.ErrClosed
		}
		return transport.Message{}, err
	}
	return fromKafka(s.cfg, m), nil
}

// Commit marks msg as consumed for the group.
func (s *Subscriber) Commit(ctx context.Context, msg transport.Message) error {
	return s.reader.CommitMessages(ctx, kafkago.Message{
		Topic:     s.cfg.topicName(msg.Topic),
		Partition: msg.Partition,
		Offset:    msg.Offset,
	})
}

// Close leaves the group.
func (s *Subscriber) Close() error {
	return s.reader.Close()
}

// Ping dials the first reachable broker and lists the cluster brokers.
func Ping(ctx context.Context, cfg Config) error {
	if len(cfg.Brokers) == 0 {
		return ErrNoBrokers
	}
	var errs []error
	for _, addr := range cfg.Brokers {
		conn, err := cfg.dialer().DialContext(ctx, "tcp", addr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		_, err = conn.Brokers()
		_ = conn.Close()
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("kafka ping: %w", errors.Join(errs...))
}

// EnsureTopics creates the given topics on the cluster controller when missing.
func EnsureTopics(ctx context.Context, cfg Config, partitions int, topics ...event.Topic) error {
	if len(cfg.Brokers) == 0 {
		return ErrNoBrokers
	}
	if partitions < 1 {
		partitions = 1
	}
	conn, err := cfg.dialer().DialContext(ctx, "tcp", cfg.Brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	ctrl, err := cfg.dialer().DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer ctrl.Close()

	configs := make([]kafkago.TopicConfig, 0, len(topics))
	for _, topic := range topics {
		configs = append(configs, kafkago.TopicConfig{
			Topic:             cfg.topicName(topic),
			NumPartitions:     partitions,
			ReplicationFactor: 1,
		})
	}
	if err := ctrl.CreateTopics(configs...); err != nil && !errors.Is(err, kafkago.TopicAlreadyExists) {
		return err
	}
	return nil
}

func toKafka(cfg Config, msg transport.Message) kafkago.Message {
	headers := make([]kafkago.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(v)})
	}
	return kafkago.Message{
		Topic:   cfg.topicName(msg.Topic),
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
}

func fromKafka(cfg Config, m kafkago.Message) transport.Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	return transport.Message{
		Topic:     event.Topic(strings.TrimPrefix(m.Topic, cfg.TopicPrefix)),
		Key:       m.Key,
		Value:     m.Value,
		Headers:   headers,
		Partition: m.Partition,
		Offset:    m.Offset,
	}
}
