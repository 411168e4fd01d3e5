package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/anonto42/instaverse/backend/pkg/retry"
	"github.com/streadway/amqp"
)

// Handler processes one delivery and is responsible for acking it.
type Handler func(ctx context.Context, msg amqp.Delivery) error

// Subscriber consumes one durable queue with manual acks, one message at a
// time, and redials with backoff whenever the broker goes away.
type Subscriber struct {
	url       string
	queue     string
	prefetch  int
	backoff   retry.Config
	logger    *slog.Logger
	connected atomic.Bool
}

// NewSubscriber creates a subscriber. backoff.MaxAttempts is ignored: the
// subscriber retries until its context ends.
func NewSubscriber(url, queue string, prefetch int, backoff retry.Config, logger *slog.Logger) *Subscriber {
	if queue == "" {
		queue = DefaultQueue
	}
	if prefetch <= 0 {
		prefetch = 10
	}
	backoff.MaxAttempts = 0
	return &Subscriber{
		url:      url,
		queue:    queue,
		prefetch: prefetch,
		backoff:  backoff,
		logger:   logger,
	}
}

// Connected reports whether a consuming channel is currently open.
func (s *Subscriber) Connected() bool {
	return s.connected.Load()
}

// Run consumes until ctx ends. Broker failures are logged and retried, never
// returned.
func (s *Subscriber) Run(ctx context.Context, handler Handler) error {
	cfg := s.backoff
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		s.logger.Warn("rabbitmq unavailable, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.Any("error", err))
	}

	for {
		var conn *amqp.Connection
		err := retry.Do(ctx, cfg, func() error {
			c, err := amqp.Dial(s.url)
			if err != nil {
				return err
			}
			conn = c
			return nil
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}

		err = s.consume(ctx, conn, handler)
		s.connected.Store(false)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("rabbitmq consumer interrupted, reconnecting", slog.Any("error", err))
	}
}

func (s *Subscriber) consume(ctx context.Context, conn *amqp.Connection, handler Handler) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := declareQueue(ch, s.queue); err != nil {
		return fmt.Errorf("declare queue %s: %w", s.queue, err)
	}
	if err := ch.Qos(s.prefetch, 0, false); err != nil {
		return fmt.Errorf("qos configuration failed: %w", err)
	}

	deliveries, err := ch.Consume(
		s.queue,
		"",
		false, // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", s.queue, err)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	s.connected.Store(true)
	s.logger.Info("listening for messages", slog.String("queue", s.queue))

	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr, ok := <-closed:
			if !ok || amqpErr == nil {
				return ErrNotConnected
			}
			return amqpErr
		case msg, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			if err := handler(ctx, msg); err != nil {
				s.logger.Error("handler returned error", slog.Any("error", err))
			}
		}
	}
}
