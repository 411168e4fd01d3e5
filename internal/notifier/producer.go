package notifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/anonto42/instaverse/backend/internal/models"
	"github.com/anonto42/instaverse/backend/pkg/metrics"
	"github.com/google/uuid"
)

const defaultPublishTimeout = 2 * time.Second

// Publisher puts an encoded notification on the durable queue and returns
// once the broker has accepted it.
type Publisher interface {
	Publish(ctx context.Context, body []byte, messageID string) error
}

// LikeEvent is what the like-toggle handler reports after a successful write.
type LikeEvent struct {
	PostID          string
	RecipientUserID string
	ActorUserID     string
	ActorUsername   string
	PostTitle       string
	WasLiked        bool
}

// PublishOutcome is the producer's verdict on a LikeEvent.
type PublishOutcome int

const (
	Published PublishOutcome = iota
	SkippedUnlike
	SkippedSelf
	SkippedDuplicate
	PublishDropped
)

func (o PublishOutcome) String() string {
	switch o {
	case Published:
		return "published"
	case SkippedUnlike:
		return "skipped_unlike"
	case SkippedSelf:
		return "skipped_self"
	case SkippedDuplicate:
		return "skipped_duplicate"
	case PublishDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Producer decides whether a like deserves a notification and publishes it.
// It owns the dedup ledger. NotifyLike never reports an error to its caller.
type Producer struct {
	publisher Publisher
	ledger    Ledger
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu       sync.Mutex
	inflight map[DedupKey]struct{}
}

// NewProducer creates a producer. Each publish, ledger calls included, is
// bounded by timeout.
func NewProducer(publisher Publisher, ledger Ledger, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Producer {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &Producer{
		publisher: publisher,
		ledger:    ledger,
		timeout:   timeout,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
		inflight:  make(map[DedupKey]struct{}),
	}
}

// NotifyLike publishes a LIKE notification for ev when it is a new like of
// someone else's story that has never been notified before.
func (p *Producer) NotifyLike(ctx context.Context, ev LikeEvent) PublishOutcome {
	outcome := p.notifyLike(ctx, ev)
	p.metrics.IncPublished(outcome.String())
	return outcome
}

func (p *Producer) notifyLike(ctx context.Context, ev LikeEvent) PublishOutcome {
	if !ev.WasLiked {
		return SkippedUnlike
	}
	if ev.RecipientUserID == ev.ActorUserID {
		return SkippedSelf
	}
	if ev.PostID == "" || ev.RecipientUserID == "" || ev.ActorUserID == "" {
		p.logger.Error("incomplete like event", slog.String("post_id", ev.PostID),
			slog.String("recipient", ev.RecipientUserID), slog.String("actor", ev.ActorUserID))
		return PublishDropped
	}

	key := DedupKey{PostID: ev.PostID, ActorUserID: ev.ActorUserID}
	if !p.enter(key) {
		return SkippedDuplicate
	}
	defer p.leave(key)

	// the like write already succeeded; a client hanging up must not cancel this
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	claimer, shared := p.ledger.(Claimer)
	var notified bool
	var err error
	if shared {
		var claimed bool
		claimed, err = claimer.Claim(ctx, key)
		notified = !claimed
	} else {
		notified, err = p.ledger.HasNotified(ctx, key)
	}
	if err != nil {
		p.logger.Warn("dedup ledger unavailable, dropping notification", slog.String("key", key.String()), slog.Any("error", err))
		return PublishDropped
	}
	if notified {
		return SkippedDuplicate
	}

	n := buildNotification(ev, p.now())
	body, err := json.Marshal(n)
	if err == nil {
		err = p.publisher.Publish(ctx, body, n.ID)
	}
	if err != nil {
		p.logger.Warn("failed to publish notification",
			slog.String("post_id", n.PostID),
			slog.String("recipient", n.RecipientUserID),
			slog.Any("error", err))
		if shared {
			p.release(ctx, claimer, key)
		}
		return PublishDropped
	}

	if !shared {
		if err := p.ledger.MarkNotified(ctx, key); err != nil {
			p.logger.Error("failed to record notified pair", slog.String("key", key.String()), slog.Any("error", err))
		}
	}
	p.logger.Info("sent to queue", slog.String("id", n.ID), slog.String("post_id", n.PostID), slog.String("recipient", n.RecipientUserID))
	return Published
}

// enter makes concurrent likes of the same pair publish at most once.
func (p *Producer) enter(key DedupKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[key]; busy {
		return false
	}
	p.inflight[key] = struct{}{}
	return true
}

func (p *Producer) leave(key DedupKey) {
	p.mu.Lock()
	delete(p.inflight, key)
	p.mu.Unlock()
}

// release gives a shared claim back so a later like can publish. It outlives
// the publish deadline that may have just expired.
func (p *Producer) release(ctx context.Context, claimer Claimer, key DedupKey) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := claimer.Release(ctx, key); err != nil {
		p.logger.Error("failed to release dedup claim", slog.String("key", key.String()), slog.Any("error", err))
	}
}

func buildNotification(ev LikeEvent, at time.Time) models.LikeNotification {
	title := ev.PostTitle
	if title == "" {
		title = "Untitled Post"
	}
	username := ev.ActorUsername
	if username == "" {
		username = "Someone"
	}
	return models.LikeNotification{
		ID:              uuid.NewString(),
		Type:            models.NotificationTypeLike,
		PostID:          ev.PostID,
		RecipientUserID: ev.RecipientUserID,
		ActorUserID:     ev.ActorUserID,
		ActorUsername:   username,
		PostTitle:       title,
		CreatedAt:       at.UTC(),
	}
}
