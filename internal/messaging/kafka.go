package messaging

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConfig contains configuration for the event publisher
type KafkaConfig struct {
	Brokers      []string
	OrdersTopic  string
	TradesTopic  string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher emits order.* and trade.* events keyed by user id.
// Other event types are not published.
type KafkaPublisher struct {
	config  KafkaConfig
	logger  *zap.Logger
	writers map[string]messageWriter
	mu      sync.RWMutex

	newWriter func(topic string) messageWriter
}

// NewKafkaPublisher creates a publisher. Writers are created lazily per topic.
func NewKafkaPublisher(config KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = 10 * time.Millisecond
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = time.Second
	}
	p := &KafkaPublisher{
		config:  config,
		logger:  logger,
		writers: make(map[string]messageWriter),
	}
	p.newWriter = func(topic string) messageWriter {
		return &kafka.Writer{
			Addr:         kafka.TCP(config.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: config.BatchTimeout,
			WriteTimeout: config.WriteTimeout,
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					logger.Error("Failed to publish messages", zap.Error(err), zap.Int("count", len(messages)))
				}
			},
		}
	}
	return p
}

// topicFor maps an event type to its topic, or "" when it is not published.
func (p *KafkaPublisher) topicFor(t EventType) string {
	switch {
	case strings.HasPrefix(string(t), "order."):
		return p.config.OrdersTopic
	case strings.HasPrefix(string(t), "trade."):
		return p.config.TradesTopic
	}
	return ""
}

// getWriter returns or creates a writer for the specified topic
func (p *KafkaPublisher) getWriter(topic string) messageWriter {
	p.mu.RLock()
	writer, exists := p.writers[topic]
	p.mu.RUnlock()
	if exists {
		return writer
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if writer, exists := p.writers[topic]; exists {
		return writer
	}
	writer = p.newWriter(topic)
	p.writers[topic] = writer
	return writer
}

func (p *KafkaPublisher) Notify(ctx context.Context, ev Event) {
	topic := p.topicFor(ev.Type)
	if topic == "" {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("Failed to marshal event", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}
	msg := kafka.Message{
		Key:   []byte(ev.UserID),
		Value: data,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	if err := p.getWriter(topic).WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("topic", topic),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
	}
}

// Close closes the producer and all its writers
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil {
			lastErr = err
			p.logger.Error("Failed to close writer", zap.String("topic", topic), zap.Error(err))
		}
	}
	return lastErr
}
