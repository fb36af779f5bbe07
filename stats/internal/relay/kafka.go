package relay

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/han-fei/stackmon/stats/internal/config"
)

// KafkaPublisher Kafka发布者，以堆栈名作为消息键
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher 创建Kafka发布者
func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Publish 发送一条消息
func (p *KafkaPublisher) Publish(ctx context.Context, stack string, payload []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(stack),
		Value: payload,
		Time:  time.Now(),
	})
}

// Close 关闭Kafka写入器
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
