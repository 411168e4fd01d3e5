package notifier

import (
	"github.com/anonto42/instaverse/backend/internal/models"
	"github.com/anonto42/instaverse/backend/pkg/metrics"
	"github.com/puzpuzpuz/xsync/v3"
)

// OfflineBuffer holds, per recipient, the notifications that could not be
// delivered live. A recipient with nothing pending has no entry at all.
//
// Callers serialize access per user through the Registry's user locks; the
// map itself is safe for concurrent use across users.
type OfflineBuffer struct {
	pending *xsync.MapOf[string, []models.LikeNotification]
	metrics *metrics.Metrics
}

// NewOfflineBuffer creates an empty buffer. m may be nil.
func NewOfflineBuffer(m *metrics.Metrics) *OfflineBuffer {
	return &OfflineBuffer{
		pending: xsync.NewMapOf[string, []models.LikeNotification](),
		metrics: m,
	}
}

// Append queues n behind whatever is already pending for userID.
func (b *OfflineBuffer) Append(userID string, n models.LikeNotification) {
	b.pending.Compute(userID, func(old []models.LikeNotification, _ bool) ([]models.LikeNotification, bool) {
		return append(old, n), false
	})
	b.metrics.AddBuffered(1)
}

// Drain removes and returns everything pending for userID in enqueue order.
func (b *OfflineBuffer) Drain(userID string) []models.LikeNotification {
	list, ok := b.pending.LoadAndDelete(userID)
	if !ok {
		return nil
	}
	b.metrics.AddBuffered(-len(list))
	return list
}

// Pending returns how many notifications wait for userID.
func (b *OfflineBuffer) Pending(userID string) int {
	list, _ := b.pending.Load(userID)
	return len(list)
}

// Users returns how many recipients have something pending.
func (b *OfflineBuffer) Users() int {
	return b.pending.Size()
}
