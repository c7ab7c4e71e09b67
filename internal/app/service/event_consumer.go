package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/sifan077/SpeedDial/internal/app/model"
	"github.com/sifan077/SpeedDial/internal/app/repository"
	"go.uber.org/zap"
)

const (
	consumerBatch   = 20
	consumerMaxWait = 5 * time.Second
)

// EventConsumer drains the lookup stream into the events table.
type EventConsumer struct {
	js     nats.JetStreamContext
	logger *zap.Logger
	repo   repository.LookupEventRepository
	done   chan struct{}
}

func NewEventConsumer(js nats.JetStreamContext, logger *zap.Logger, repo repository.LookupEventRepository) *EventConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventConsumer{js: js, logger: logger, repo: repo, done: make(chan struct{})}
}

// Start subscribes the durable consumer and processes batches until ctx ends.
func (c *EventConsumer) Start(ctx context.Context) error {
	if err := EnsureLookupStream(c.js); err != nil {
		return err
	}

	if _, err := c.js.ConsumerInfo(model.LookupStreamName, model.LookupConsumerName); err != nil {
		_, err = c.js.AddConsumer(model.LookupStreamName, &nats.ConsumerConfig{
			Durable:   model.LookupConsumerName,
			AckPolicy: nats.AckExplicitPolicy,
		})
		if err != nil {
			return fmt.Errorf("create lookup consumer: %w", err)
		}
	}

	sub, err := c.js.PullSubscribe(model.LookupStreamSubject, model.LookupConsumerName, nats.Bind(model.LookupStreamName, model.LookupConsumerName))
	if err != nil {
		return fmt.Errorf("subscribe lookup consumer: %w", err)
	}

	go c.consume(ctx, sub)
	return nil
}

// Done is closed once the consume loop has exited.
func (c *EventConsumer) Done() <-chan struct{} {
	return c.done
}

func (c *EventConsumer) consume(ctx context.Context, sub *nats.Subscription) {
	defer close(c.done)
	defer func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			c.logger.Warn("lookup consumer unsubscribe failed", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("lookup event consumer stopped")
			return
		default:
		}

		msgs, err := sub.Fetch(consumerBatch, nats.MaxWait(consumerMaxWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				c.logger.Info("lookup event consumer closed", zap.Error(err))
				return
			}
			c.logger.Error("failed to fetch lookup events", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range msgs {
			c.handle(ctx, msg)
		}
	}
}

func (c *EventConsumer) handle(ctx context.Context, msg *nats.Msg) {
	var event model.LookupEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		// A payload that cannot decode never will; drop it.
		c.logger.Error("failed to decode lookup event", zap.Error(err))
		_ = msg.Term()
		return
	}

	if err := c.repo.Create(ctx, &event); err != nil {
		c.logger.Error("failed to store lookup event",
			zap.String("id", event.ID),
			zap.String("number", event.Number),
			zap.Error(err))
		_ = msg.Nak()
		return
	}

	c.logger.Debug("lookup event stored",
		zap.String("id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("number", event.Number),
	)
	_ = msg.Ack()
}
