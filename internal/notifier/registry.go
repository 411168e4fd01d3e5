package notifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/anonto42/instaverse/backend/internal/models"
	"github.com/anonto42/instaverse/backend/pkg/metrics"
	"github.com/puzpuzpuz/xsync/v3"
)

const defaultWriteTimeout = 5 * time.Second

// FlushResult reports what happened to the offline backlog on Register.
type FlushResult struct {
	Sent    int
	Dropped int
}

// Registry maps each user ID to its single live connection. A newer
// registration for the same user replaces the older one.
//
// Register, Unregister and Dispatcher.Dispatch for the same user are
// serialized, so a reconnect flush always completes before any newer
// notification reaches that user.
type Registry struct {
	conns        *xsync.MapOf[string, Conn]
	locks        *userLocks
	buffer       *OfflineBuffer
	logger       *slog.Logger
	metrics      *metrics.Metrics
	writeTimeout time.Duration
}

// NewRegistry creates a registry that flushes from buffer on Register.
// Conn values must be comparable, pointer types in practice.
func NewRegistry(buffer *OfflineBuffer, logger *slog.Logger, m *metrics.Metrics, writeTimeout time.Duration) *Registry {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Registry{
		conns:        xsync.NewMapOf[string, Conn](),
		locks:        newUserLocks(),
		buffer:       buffer,
		logger:       logger,
		metrics:      m,
		writeTimeout: writeTimeout,
	}
}

// Register records conn as userID's connection and sends it everything
// buffered for userID, oldest first. If a write fails the rest of the backlog
// is dropped and conn is unregistered.
func (r *Registry) Register(ctx context.Context, userID string, conn Conn) FlushResult {
	unlock := r.locks.lock(userID)
	defer unlock()

	if _, loaded := r.conns.LoadAndStore(userID, conn); loaded {
		r.logger.Info("replacing stream connection", slog.String("user_id", userID))
	} else {
		r.metrics.ConnectionOpened()
	}
	r.logger.Info("client connected", slog.String("user_id", userID))

	return r.flush(ctx, userID, conn)
}

func (r *Registry) flush(ctx context.Context, userID string, conn Conn) FlushResult {
	pending := r.buffer.Drain(userID)
	if len(pending) == 0 {
		return FlushResult{}
	}
	r.logger.Info("flushing pending notifications", slog.String("user_id", userID), slog.Int("count", len(pending)))

	var res FlushResult
	for i, n := range pending {
		if err := r.write(ctx, conn, n); err != nil {
			res.Dropped = len(pending) - i
			r.logger.Warn("flush interrupted, dropping remaining notifications",
				slog.String("user_id", userID),
				slog.Int("sent", res.Sent),
				slog.Int("dropped", res.Dropped),
				slog.Any("error", err))
			r.evictLocked(userID, conn)
			break
		}
		res.Sent++
	}
	r.metrics.AddFlushed("sent", res.Sent)
	r.metrics.AddFlushed("dropped", res.Dropped)
	return res
}

// Unregister removes userID's registration if conn is still the one on
// record. A close event from a replaced connection is ignored.
func (r *Registry) Unregister(userID string, conn Conn) bool {
	unlock := r.locks.lock(userID)
	defer unlock()

	if !r.evictLocked(userID, conn) {
		return false
	}
	r.logger.Info("client disconnected", slog.String("user_id", userID))
	return true
}

func (r *Registry) evictLocked(userID string, conn Conn) bool {
	current, ok := r.conns.Load(userID)
	if !ok || current != conn {
		return false
	}
	r.conns.Delete(userID)
	r.metrics.ConnectionClosed()
	return true
}

// IsOnline reports whether userID has a registered connection.
func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.conns.Load(userID)
	return ok
}

// Deliver writes n to userID's connection. It returns false when the user is
// offline or the write fails; a failed connection is unregistered.
func (r *Registry) Deliver(ctx context.Context, userID string, n models.LikeNotification) bool {
	unlock := r.locks.lock(userID)
	defer unlock()
	return r.deliverLocked(ctx, userID, n)
}

func (r *Registry) deliverLocked(ctx context.Context, userID string, n models.LikeNotification) bool {
	conn, ok := r.conns.Load(userID)
	if !ok {
		return false
	}
	if err := r.write(ctx, conn, n); err != nil {
		// a connection that lost a frame must not receive later ones
		r.evictLocked(userID, conn)
		r.logger.Warn("live delivery failed, connection dropped", slog.String("user_id", userID), slog.Any("error", err))
		return false
	}
	return true
}

func (r *Registry) write(ctx context.Context, conn Conn, n models.LikeNotification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()
	return conn.Write(ctx, payload)
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	return r.conns.Size()
}
