// Package kafka consumes payment confirmations from a Kafka topic.
package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/smallbiznis/storefront-ledger/internal/config"
	"github.com/smallbiznis/storefront-ledger/internal/intake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// HandleFunc processes one message body.
type HandleFunc func(ctx context.Context, body []byte) intake.Outcome

// MessageReader is the subset of *kafka.Reader the consumer drives.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	log     *zap.Logger
	reader  MessageReader
	handle  HandleFunc
	backoff time.Duration
	maxWait time.Duration
}

func NewConsumer(log *zap.Logger, reader MessageReader, handle HandleFunc) *Consumer {
	return &Consumer{
		log:     log.Named("kafka"),
		reader:  reader,
		handle:  handle,
		backoff: 500 * time.Millisecond,
		maxWait: 30 * time.Second,
	}
}

// Run blocks until ctx is cancelled. A message is committed only after
// the handler acknowledges it; a retry re-handles the same message.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		if !c.process(ctx, msg) {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("commit failed",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}
}

// process returns false when ctx ended before the message was acknowledged.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	wait := c.backoff
	for attempt := 1; ; attempt++ {
		if c.handle(ctx, msg.Value) == intake.OutcomeAck {
			return true
		}
		c.log.Warn("retrying message",
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
		wait *= 2
		if wait > c.maxWait {
			wait = c.maxWait
		}
	}
}

func NewReader(cfg config.Config) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.PaymentsTopic,
		GroupID: cfg.Kafka.GroupID,
	})
}

type runParams struct {
	fx.In

	Lc      fx.Lifecycle
	Log     *zap.Logger
	Handler *intake.Handler
	Reader  *kafka.Reader
}

func run(p runParams) {
	consumer := NewConsumer(p.Log, p.Reader, p.Handler.HandlePayment)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.Lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := consumer.Run(ctx); err != nil {
					p.Log.Error("payments consumer stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return p.Reader.Close()
		},
	})
}

// PaymentsModule consumes payment confirmations from the configured topic.
var PaymentsModule = fx.Module("intake.kafka.payments",
	fx.Provide(NewReader),
	fx.Invoke(run),
)
