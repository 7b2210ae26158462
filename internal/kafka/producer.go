// Package kafka publishes ledger notifications to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"gw-ledger/internal/models"
)

const (
	headerSeverity = "severity"
	headerAccount  = "account_id"
)

type Producer interface {
	SendNotification(ctx context.Context, n models.Notification) error
	Close() error
}

// AlertProducer writes one message per notification, keyed by notification id.
type AlertProducer struct {
	sp    sarama.SyncProducer
	topic string
	log   *slog.Logger
}

func producerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "gw-ledger"
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Timeout = 5 * time.Second
	// idempotent producers require a single in-flight request
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

func NewKafkaProducer(brokers []string, topic string, log *slog.Logger) (Producer, error) {
	sp, err := sarama.NewSyncProducer(brokers, producerConfig())
	if err != nil {
		return nil, fmt.Errorf("kafka.NewKafkaProducer: %w", err)
	}

	log.Info("alert producer ready", slog.String("topic", topic), slog.Any("brokers", brokers))
	return newKafkaProducer(sp, topic, log), nil
}

func newKafkaProducer(sp sarama.SyncProducer, topic string, log *slog.Logger) *AlertProducer {
	return &AlertProducer{sp: sp, topic: topic, log: log.With(slog.String("topic", topic))}
}

func (p *AlertProducer) message(n models.Notification) (*sarama.ProducerMessage, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}

	headers := []sarama.RecordHeader{{Key: []byte(headerSeverity), Value: []byte(n.Severity)}}
	if n.AccountID != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(headerAccount), Value: []byte(n.AccountID)})
	}

	return &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(n.ID),
		Value:     sarama.ByteEncoder(payload),
		Headers:   headers,
		Timestamp: n.CreatedAt,
	}, nil
}

// SendNotification blocks until the broker acknowledges the message. A
// cancelled ctx abandons the wait but not an in-flight send.
func (p *AlertProducer) SendNotification(ctx context.Context, n models.Notification) error {
	const op = "kafka.SendNotification"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	msg, err := p.message(n)
	if err != nil {
		return fmt.Errorf("%s: encode %s: %w", op, n.ID, err)
	}

	done := make(chan error, 1)
	go func() {
		_, _, err := p.sp.SendMessage(msg)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			p.log.Error("alert not published", slog.String("notification_id", n.ID), slog.String("error", err.Error()))
			return fmt.Errorf("%s: %w", op, err)
		}
		p.log.Debug("alert published",
			slog.String("notification_id", n.ID),
			slog.Int("partition", int(msg.Partition)),
			slog.Int64("offset", msg.Offset))
		return nil
	case <-ctx.Done():
		p.log.Warn("alert publish abandoned", slog.String("notification_id", n.ID))
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

func (p *AlertProducer) Close() error {
	if p.sp == nil {
		return nil
	}
	return p.sp.Close()
}
