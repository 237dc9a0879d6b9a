package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
	"github.com/spec-kit/servicedesk-engine/internal/observability"
)

const kafkaBatchTimeout = 10 * time.Millisecond

// KafkaSender publishes notifications as JSON records keyed by recipient.
// Writes are asynchronous: Send returns once the record is buffered and
// broker failures are reported through the completion callback.
type KafkaSender struct {
	writer *kafka.Writer
}

// NewKafkaSender builds a sender for topic on brokers.
func NewKafkaSender(brokers []string, topic string, logger *zap.Logger, metrics *observability.Metrics) (*KafkaSender, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka sender requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka sender requires a topic")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSender{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
			Async:        true,
			BatchTimeout: kafkaBatchTimeout,
			Completion: func(messages []kafka.Message, err error) {
				if err == nil {
					return
				}
				metrics.RecordDeliveryFailure("kafka", len(messages))
				logger.Warn("kafka notification delivery failed",
					zap.String("topic", topic),
					zap.Int("messages", len(messages)),
					zap.Error(err))
			},
		},
	}, nil
}

func (s *KafkaSender) Send(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.UserID),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

// Close flushes buffered records and closes the writer.
func (s *KafkaSender) Close() error {
	return s.writer.Close()
}
