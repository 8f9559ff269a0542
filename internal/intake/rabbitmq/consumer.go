// Package rabbitmq consumes delivery updates from a RabbitMQ queue.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/smallbiznis/storefront-ledger/internal/config"
	"github.com/smallbiznis/storefront-ledger/internal/intake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type HandleFunc func(ctx context.Context, body []byte) intake.Outcome

var ErrDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

type Consumer struct {
	log        *zap.Logger
	handle     HandleFunc
	retryDelay time.Duration
}

func NewConsumer(log *zap.Logger, handle HandleFunc) *Consumer {
	return &Consumer{
		log:        log.Named("rabbitmq"),
		handle:     handle,
		retryDelay: time.Second,
	}
}

// Serve handles deliveries until ctx ends or the channel closes. Acked
// messages are removed; retries are requeued after retryDelay.
func (c *Consumer) Serve(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			c.dispatch(ctx, d)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, d amqp.Delivery) {
	if c.handle(ctx, d.Body) == intake.OutcomeAck {
		if err := d.Ack(false); err != nil {
			c.log.Error("ack failed", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(err))
		}
		return
	}

	select {
	case <-ctx.Done():
	case <-time.After(c.retryDelay):
	}
	if err := d.Nack(false, true); err != nil {
		c.log.Error("nack failed", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(err))
	}
}

// Session is an open connection consuming one queue.
type Session struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	Deliveries <-chan amqp.Delivery
}

func Dial(cfg config.Config) (*Session, error) {
	conn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if cfg.RabbitMQ.Prefetch > 0 {
		if err := ch.Qos(cfg.RabbitMQ.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("set qos: %w", err)
		}
	}
	_, err = ch.QueueDeclare(
		cfg.RabbitMQ.DeliveryQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	deliveries, err := ch.Consume(
		cfg.RabbitMQ.DeliveryQueue,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}
	return &Session{conn: conn, ch: ch, Deliveries: deliveries}, nil
}

func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	chErr := s.ch.Close()
	connErr := s.conn.Close()
	return errors.Join(chErr, connErr)
}

type runParams struct {
	fx.In

	Lc      fx.Lifecycle
	Log     *zap.Logger
	Handler *intake.Handler
	Session *Session
}

func run(p runParams) {
	consumer := NewConsumer(p.Log, p.Handler.HandleDelivery)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.Lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := consumer.Serve(ctx, p.Session.Deliveries); err != nil {
					p.Log.Error("delivery consumer stopped", zap.Error(err))
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
			return p.Session.Close()
		},
	})
}

// DeliveryModule consumes delivery updates from the configured queue.
var DeliveryModule = fx.Module("intake.rabbitmq.delivery",
	fx.Provide(Dial),
	fx.Invoke(run),
)
