package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"
)

// DefaultQueue is the well-known queue carrying like notifications.
const DefaultQueue = "notifications"

var (
	// ErrNotConnected is returned when the broker connection or channel is gone.
	ErrNotConnected = errors.New("broker: not connected")
	// ErrNacked is returned when the broker refuses a published message.
	ErrNacked = errors.New("broker: message nacked")
)

// declareQueue declares name as a durable, non-exclusive queue. Both sides
// declare it so either can start first.
func declareQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	return err
}

// Publisher sends persistent messages to one queue over a lazily dialed,
// confirm-mode channel. A failed publish drops the channel; the next call
// dials again.
type Publisher struct {
	url         string
	queue       string
	dialTimeout time.Duration
	logger      *slog.Logger

	// sem guards the fields below; a buffered channel lets waiters give up
	// when their context ends.
	sem      chan struct{}
	conn     *amqp.Connection
	ch       *amqp.Channel
	confirms chan amqp.Confirmation
}

// NewPublisher creates a publisher. Nothing is dialed until the first Publish.
func NewPublisher(url, queue string, dialTimeout time.Duration, logger *slog.Logger) *Publisher {
	if queue == "" {
		queue = DefaultQueue
	}
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return &Publisher{
		url:         url,
		queue:       queue,
		dialTimeout: dialTimeout,
		logger:      logger,
		sem:         make(chan struct{}, 1),
	}
}

// Publish sends body as a persistent JSON message and waits for the broker
// confirm, or for ctx to end.
func (p *Publisher) Publish(ctx context.Context, body []byte, messageID string) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()

	if err := p.ensureChannel(ctx); err != nil {
		return err
	}

	err := p.ch.Publish(
		"",      // default exchange routes by queue name
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		p.reset()
		return fmt.Errorf("publish: %w", err)
	}

	select {
	case confirm, ok := <-p.confirms:
		if !ok {
			p.reset()
			return ErrNotConnected
		}
		if !confirm.Ack {
			return ErrNacked
		}
		return nil
	case <-ctx.Done():
		// a late confirm would be read by the next publish
		p.reset()
		return ctx.Err()
	}
}

func (p *Publisher) ensureChannel(ctx context.Context) error {
	if p.ch != nil && !p.conn.IsClosed() {
		return nil
	}
	p.reset()

	timeout := p.dialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}

	conn, err := amqp.DialConfig(p.url, amqp.Config{Dial: amqp.DefaultDial(timeout)})
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("enable confirms: %w", err)
	}
	if err := declareQueue(ch, p.queue); err != nil {
		_ = conn.Close()
		return fmt.Errorf("declare queue %s: %w", p.queue, err)
	}

	p.conn = conn
	p.ch = ch
	p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	p.logger.Info("connected to rabbitmq for publishing", slog.String("queue", p.queue))
	return nil
}

func (p *Publisher) reset() {
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn = nil
	p.ch = nil
	p.confirms = nil
}

// Close releases the connection, if any.
func (p *Publisher) Close() error {
	p.sem <- struct{}{}
	defer func() { <-p.sem }()
	p.reset()
	return nil
}
