package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anonto42/instaverse/backend/internal/models"
	"github.com/anonto42/instaverse/backend/pkg/metrics"
	"github.com/go-playground/validator/v10"
	"github.com/streadway/amqp"
)

// NotificationDispatcher is the hand-off target of the consumer.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, n models.LikeNotification) DispatchResult
}

// Consumer turns queue deliveries into dispatches. It acks a message once the
// dispatcher has taken it, and acks-and-drops anything it cannot decode.
type Consumer struct {
	dispatcher NotificationDispatcher
	validate   *validator.Validate
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewConsumer creates a consumer handing notifications to dispatcher.
func NewConsumer(dispatcher NotificationDispatcher, logger *slog.Logger, m *metrics.Metrics) *Consumer {
	return &Consumer{
		dispatcher: dispatcher,
		validate:   validator.New(),
		logger:     logger,
		metrics:    m,
	}
}

// HandleDelivery processes one message. It is meant to be called from a
// single loop so notifications reach the dispatcher in queue order.
func (c *Consumer) HandleDelivery(ctx context.Context, msg amqp.Delivery) (err error) {
	var n models.LikeNotification
	if err := json.Unmarshal(msg.Body, &n); err != nil {
		c.logger.Error("dropping undecodable message", slog.String("message_id", msg.MessageId), slog.Any("error", err))
		c.metrics.IncConsumed("malformed")
		return msg.Ack(false)
	}
	if err := c.validate.Struct(n); err != nil {
		c.logger.Error("dropping invalid notification", slog.String("message_id", msg.MessageId), slog.Any("error", err))
		c.metrics.IncConsumed("invalid")
		return msg.Ack(false)
	}

	defer func() {
		if r := recover(); r != nil {
			// one redelivery, then give up on it
			requeue := !msg.Redelivered
			c.logger.Error("dispatch panicked",
				slog.String("message_id", msg.MessageId),
				slog.Bool("requeue", requeue),
				slog.Any("panic", r))
			c.metrics.IncConsumed("failed")
			if nackErr := msg.Nack(false, requeue); nackErr != nil {
				c.logger.Error("failed to nack message", slog.Any("error", nackErr))
			}
			err = fmt.Errorf("dispatch panicked: %v", r)
		}
	}()

	c.logger.Info("received notification",
		slog.String("type", string(n.Type)),
		slog.String("post_id", n.PostID),
		slog.String("recipient", n.RecipientUserID))

	res := c.dispatcher.Dispatch(ctx, n)
	c.metrics.IncConsumed(res.String())
	return msg.Ack(false)
}
