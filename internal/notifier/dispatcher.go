package notifier

import (
	"context"
	"log/slog"

	"github.com/anonto42/instaverse/backend/internal/models"
	"github.com/anonto42/instaverse/backend/pkg/metrics"
)

// DispatchResult tells what became of a dispatched notification.
type DispatchResult int

const (
	Delivered DispatchResult = iota
	Buffered
	Dropped
)

func (r DispatchResult) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case Buffered:
		return "buffered"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Dispatcher routes notifications to a live connection or, failing that, to
// the recipient's offline buffer.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewDispatcher creates a dispatcher over registry and the buffer it flushes from.
func NewDispatcher(registry *Registry, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logger:   logger,
		metrics:  m,
	}
}

// Dispatch never fails: a notification the recipient cannot take right now
// is buffered for its next connection.
func (d *Dispatcher) Dispatch(ctx context.Context, n models.LikeNotification) DispatchResult {
	res := d.dispatch(ctx, n)
	d.metrics.IncDispatched(res.String())
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, n models.LikeNotification) DispatchResult {
	userID := n.RecipientUserID
	if userID == "" {
		d.logger.Error("notification missing recipient", slog.String("post_id", n.PostID))
		return Dropped
	}

	unlock := d.registry.locks.lock(userID)
	defer unlock()

	// nothing overtakes a backlog; it goes out with the next flush
	if d.registry.buffer.Pending(userID) == 0 && d.registry.deliverLocked(ctx, userID, n) {
		d.logger.Debug("notification delivered", slog.String("user_id", userID), slog.String("post_id", n.PostID))
		return Delivered
	}

	d.registry.buffer.Append(userID, n)
	d.logger.Info("recipient offline, notification buffered",
		slog.String("user_id", userID),
		slog.Int("pending", d.registry.buffer.Pending(userID)))
	return Buffered
}
