// Package notification consumes fraud alerts from Kafka and archives them for
// administrator review.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"gw-ledger/internal/models"
)

// retryDelay is how long a worker waits before rejoining the group after a
// failed consume session.
const retryDelay = 2 * time.Second

var errNoID = errors.New("notification without id")

type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topic   string
	Workers int
}

// Consumer runs Workers members of one consumer group against the alert topic.
type Consumer struct {
	group   sarama.ConsumerGroup
	cfg     ConsumerConfig
	handler *archiveHandler
	log     *slog.Logger
	wg      sync.WaitGroup
}

func consumerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "gw-ledger-notifier"
	cfg.Version = sarama.V3_0_0_0
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true
	return cfg
}

func NewConsumer(cfg ConsumerConfig, storage Storage, log *slog.Logger) (*Consumer, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, consumerConfig())
	if err != nil {
		return nil, fmt.Errorf("notification.NewConsumer: %w", err)
	}

	log = log.With(slog.String("group_id", cfg.GroupID), slog.String("topic", cfg.Topic))
	log.Info("alert consumer ready", slog.Int("workers", cfg.Workers))

	return &Consumer{
		group:   group,
		cfg:     cfg,
		handler: &archiveHandler{storage: storage, log: log, now: time.Now},
		log:     log,
	}, nil
}

// Start launches the workers and returns immediately. Workers stop when ctx
// is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	for i := range c.cfg.Workers {
		c.wg.Add(1)
		go c.work(ctx, i)
	}

	go func() {
		for err := range c.group.Errors() {
			c.log.Error("consumer group error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (c *Consumer) work(ctx context.Context, id int) {
	defer c.wg.Done()
	log := c.log.With(slog.Int("worker_id", id))

	for ctx.Err() == nil {
		// Consume returns on every rebalance.
		err := c.group.Consume(ctx, []string{c.cfg.Topic}, c.handler)
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return
		}
		if err != nil {
			log.Error("consume session failed", slog.String("error", err.Error()))
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
			}
		}
	}
}

// Close leaves the group and waits for the workers, bounded by ctx.
func (c *Consumer) Close(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		err := c.group.Close()
		c.wg.Wait()
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("notification.Close: %w", err)
		}
		c.log.Info("alert consumer closed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notification.Close: %w", ctx.Err())
	}
}

// archiveHandler stores every decoded alert. Messages that fail to store are
// left unmarked so the group redelivers them.
type archiveHandler struct {
	storage Storage
	log     *slog.Logger
	now     func() time.Time
}

func (h *archiveHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *archiveHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *archiveHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := h.handle(session.Context(), msg); err != nil {
			h.log.Error("alert not archived",
				slog.Int("partition", int(msg.Partition)),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()))
			continue
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

func decodeAlert(msg *sarama.ConsumerMessage) (models.Notification, error) {
	var n models.Notification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		return n, err
	}
	if n.ID == "" {
		n.ID = string(msg.Key)
	}
	if n.ID == "" {
		return n, errNoID
	}
	return n, nil
}

// handle returns an error only when the message should be redelivered.
// Malformed alerts are logged and skipped.
func (h *archiveHandler) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	n, err := decodeAlert(msg)
	if err != nil {
		h.log.Warn("malformed alert skipped",
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
			slog.String("payload", string(msg.Value)))
		return nil
	}
	n.ProcessedAt = h.now()

	if err := h.storage.SaveNotification(ctx, &n); err != nil {
		return fmt.Errorf("save %s: %w", n.ID, err)
	}

	h.log.Info("alert archived",
		slog.String("notification_id", n.ID),
		slog.String("severity", string(n.Severity)),
		slog.String("title", n.Title))
	return nil
}
