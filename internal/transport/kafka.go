package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mailru/easyjson"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/infinityCounter2/vh-surveil/internal/metrics"
	"github.com/infinityCounter2/vh-surveil/internal/models"
)

// KafkaConfig contains configuration for the Kafka connection
type KafkaConfig struct {
	Brokers []string
	// Topic is the order feed for sources and producers,
	// the alerts topic for sinks.
	Topic string
	// GroupID is only used by sources. Each detector consumes
	// with its own group so every detector sees the full feed.
	GroupID      string
	MaxBytes     int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

func (c *KafkaConfig) withDefaults() {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 1 << 20 // 1MB
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 10 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = time.Second
	}
}

// messageReader is the part of kafka.Reader a source needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource reads raw order envelopes from a consumer group.
type KafkaSource struct {
	reader messageReader
	logger *zap.Logger
}

func NewKafkaSource(cfg KafkaConfig, logger *zap.Logger) *KafkaSource {
	cfg.withDefaults()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MaxBytes:    cfg.MaxBytes,
		StartOffset: kafka.FirstOffset,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...))
		}),
	})

	return newKafkaSource(reader, logger)
}

func newKafkaSource(reader messageReader, logger *zap.Logger) *KafkaSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSource{reader: reader, logger: logger}
}

// Poll waits up to timeout for the next message. It reports false with
// a nil error when nothing arrived in time.
//
// Only the fetch is bounded by timeout. The commit runs under ctx, and a
// fetched message is returned even if its commit fails, since the reader
// has already moved past it.
func (s *KafkaSource) Poll(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := s.reader.FetchMessage(pollCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to fetch message: %w", err)
	}

	if err := s.reader.CommitMessages(ctx, msg); err != nil {
		s.logger.Warn("Failed to commit order event offset",
			zap.Error(err),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
		)
	}

	return msg.Value, true, nil
}

func (s *KafkaSource) Close() error {
	return s.reader.Close()
}

// KafkaSink publishes alerts without waiting for delivery. Failures are
// reported through the writer's completion callback only.
type KafkaSink struct {
	writer  *kafka.Writer
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewKafkaSink(cfg KafkaConfig, logger *zap.Logger, m *metrics.Metrics) *KafkaSink {
	cfg.withDefaults()

	sink := &KafkaSink{
		logger:  logger,
		metrics: m,
	}

	sink.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // alerts for one subject stay in order
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				sink.logger.Error("Failed to publish alerts", zap.Error(err), zap.Int("count", len(messages)))
				sink.metrics.PublishFailures.Add(float64(len(messages)))
			}
		},
	}

	return sink
}

// Publish hands the alert to the writer's queue.
func (s *KafkaSink) Publish(alert models.Alert) {
	payload, err := easyjson.Marshal(alert)
	if err != nil {
		s.logger.Error("Failed to marshal alert", zap.Error(err), zap.String("order_id", alert.OrderID))
		s.metrics.PublishFailures.Inc()
		return
	}

	// Async writers only enqueue here, the context is not used for delivery.
	err = s.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(alert.Key()),
		Value: payload,
	})
	if err != nil {
		s.logger.Error("Failed to enqueue alert", zap.Error(err), zap.String("order_id", alert.OrderID))
		s.metrics.PublishFailures.Inc()
	}
}

// Close flushes pending alerts.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// OrderProducer writes order envelopes to the feed topic, used by the
// feed simulator.
type OrderProducer struct {
	writer *kafka.Writer
}

func NewOrderProducer(cfg KafkaConfig) *OrderProducer {
	cfg.withDefaults()

	return &OrderProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: cfg.BatchTimeout,
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Send writes orders synchronously, keyed by user so one trader's
// orders land on one partition in order. A symbol's orders only keep
// their order across users when the feed topic has a single partition.
func (p *OrderProducer) Send(ctx context.Context, orders ...models.OrderEvent) error {
	if len(orders) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, len(orders))
	for i, o := range orders {
		payload, err := easyjson.Marshal(o)
		if err != nil {
			return fmt.Errorf("failed to marshal order %d: %w", i, err)
		}
		msgs[i] = kafka.Message{
			Key:   []byte(o.UserID),
			Value: payload,
		}
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write orders: %w", err)
	}
	return nil
}

func (p *OrderProducer) Close() error {
	return p.writer.Close()
}
