package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/anonto42/instaverse/backend/internal/models"
	"github.com/anonto42/instaverse/backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu       sync.Mutex
	bodies   [][]byte
	ids      []string
	err      error
	block    bool
	released chan struct{}
}

func (f *fakePublisher) Publish(ctx context.Context, body []byte, messageID string) error {
	if f.block {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.released:
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.bodies = append(f.bodies, body)
	f.ids = append(f.ids, messageID)
	return nil
}

func (f *fakePublisher) published(t *testing.T) []models.LikeNotification {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.LikeNotification, 0, len(f.bodies))
	for _, b := range f.bodies {
		var n models.LikeNotification
		require.NoError(t, json.Unmarshal(b, &n))
		out = append(out, n)
	}
	return out
}

type failingLedger struct{}

func (failingLedger) HasNotified(context.Context, DedupKey) (bool, error) {
	return false, errors.New("ledger down")
}

func (failingLedger) MarkNotified(context.Context, DedupKey) error {
	return errors.New("ledger down")
}

func likeEvent() LikeEvent {
	return LikeEvent{
		PostID:          "p1",
		RecipientUserID: "owner",
		ActorUserID:     "fan",
		ActorUsername:   "fan_name",
		PostTitle:       "beach day",
		WasLiked:        true,
	}
}

func newTestProducer(pub Publisher, ledger Ledger, timeout time.Duration) *Producer {
	p := NewProducer(pub, ledger, timeout, logger.Discard(), nil)
	p.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return p
}

func TestProducer_PublishesNewLike(t *testing.T) {
	pub := &fakePublisher{}
	ledger := NewMemoryLedger()
	p := newTestProducer(pub, ledger, time.Second)

	outcome := p.NotifyLike(context.Background(), likeEvent())

	require.Equal(t, Published, outcome)
	got := pub.published(t)
	require.Len(t, got, 1)
	n := got[0]
	assert.Equal(t, models.NotificationTypeLike, n.Type)
	assert.Equal(t, "p1", n.PostID)
	assert.Equal(t, "owner", n.RecipientUserID)
	assert.Equal(t, "fan", n.ActorUserID)
	assert.Equal(t, "fan_name", n.ActorUsername)
	assert.Equal(t, "beach day", n.PostTitle)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), n.CreatedAt)
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, n.ID, pub.ids[0])

	notified, err := ledger.HasNotified(context.Background(), DedupKey{PostID: "p1", ActorUserID: "fan"})
	require.NoError(t, err)
	assert.True(t, notified)
}

func TestProducer_WireFormat(t *testing.T) {
	pub := &fakePublisher{}
	p := newTestProducer(pub, NewMemoryLedger(), time.Second)
	require.Equal(t, Published, p.NotifyLike(context.Background(), likeEvent()))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(pub.bodies[0], &raw))
	assert.Equal(t, "LIKE", raw["type"])
	assert.Equal(t, "p1", raw["postId"])
	assert.Equal(t, "owner", raw["userId"])
	assert.Equal(t, "fan", raw["likedBy"])
	assert.Equal(t, "fan_name", raw["username"])
	assert.Equal(t, "beach day", raw["postTitle"])
}

func TestProducer_Skips(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(ev *LikeEvent)
		outcome PublishOutcome
	}{
		{name: "unlike", mutate: func(ev *LikeEvent) { ev.WasLiked = false }, outcome: SkippedUnlike},
		{name: "self like", mutate: func(ev *LikeEvent) { ev.ActorUserID = ev.RecipientUserID }, outcome: SkippedSelf},
		{name: "missing post", mutate: func(ev *LikeEvent) { ev.PostID = "" }, outcome: PublishDropped},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pub := &fakePublisher{}
			p := newTestProducer(pub, NewMemoryLedger(), time.Second)
			ev := likeEvent()
			tc.mutate(&ev)

			assert.Equal(t, tc.outcome, p.NotifyLike(context.Background(), ev))
			assert.Empty(t, pub.published(t))
		})
	}
}

func TestProducer_LikeUnlikeRelikePublishesOnce(t *testing.T) {
	pub := &fakePublisher{}
	p := newTestProducer(pub, NewMemoryLedger(), time.Second)
	ctx := context.Background()

	like := likeEvent()
	unlike := likeEvent()
	unlike.WasLiked = false

	assert.Equal(t, Published, p.NotifyLike(ctx, like))
	assert.Equal(t, SkippedUnlike, p.NotifyLike(ctx, unlike))
	assert.Equal(t, SkippedDuplicate, p.NotifyLike(ctx, like))
	assert.Len(t, pub.published(t), 1)

	other := likeEvent()
	other.ActorUserID = "someone-else"
	assert.Equal(t, Published, p.NotifyLike(ctx, other))
	assert.Len(t, pub.published(t), 2)
}

func TestProducer_ConcurrentLikesOfSamePairPublishOnce(t *testing.T) {
	pub := &fakePublisher{}
	p := newTestProducer(pub, NewMemoryLedger(), time.Second)

	var wg sync.WaitGroup
	for n := 0; n < 32; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.NotifyLike(context.Background(), likeEvent())
		}()
	}
	wg.Wait()

	assert.Len(t, pub.published(t), 1)
}

func TestProducer_BrokerDownDoesNotBlockCaller(t *testing.T) {
	pub := &fakePublisher{block: true, released: make(chan struct{})}
	ledger := NewMemoryLedger()
	p := newTestProducer(pub, ledger, 50*time.Millisecond)

	start := time.Now()
	outcome := p.NotifyLike(context.Background(), likeEvent())

	assert.Equal(t, PublishDropped, outcome)
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, ledger.Len(), "a dropped publish is not recorded")
}

func TestProducer_PublishFailureLeavesPairRetryable(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	p := newTestProducer(pub, NewMemoryLedger(), time.Second)
	ctx := context.Background()

	assert.Equal(t, PublishDropped, p.NotifyLike(ctx, likeEvent()))

	pub.mu.Lock()
	pub.err = nil
	pub.mu.Unlock()
	assert.Equal(t, Published, p.NotifyLike(ctx, likeEvent()))
}

func TestProducer_CallerCancellationDoesNotAbortPublish(t *testing.T) {
	pub := &fakePublisher{}
	p := newTestProducer(pub, NewMemoryLedger(), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, Published, p.NotifyLike(ctx, likeEvent()))
}

func TestProducer_LedgerFailureSuppresses(t *testing.T) {
	pub := &fakePublisher{}
	p := newTestProducer(pub, failingLedger{}, time.Second)

	assert.Equal(t, PublishDropped, p.NotifyLike(context.Background(), likeEvent()))
	assert.Empty(t, pub.published(t))
}

func TestProducer_DefaultsDisplayFields(t *testing.T) {
	pub := &fakePublisher{}
	p := newTestProducer(pub, NewMemoryLedger(), time.Second)
	ev := likeEvent()
	ev.ActorUsername = ""
	ev.PostTitle = ""

	require.Equal(t, Published, p.NotifyLike(context.Background(), ev))
	n := pub.published(t)[0]
	assert.Equal(t, "Someone", n.ActorUsername)
	assert.Equal(t, "Untitled Post", n.PostTitle)
}

// sharedLedger mimics a ledger shared between processes: claims are atomic
// and a second producer process may already hold the key.
type sharedLedger struct {
	mu       sync.Mutex
	keys     map[DedupKey]bool
	released []DedupKey
	marks    int
}

func newSharedLedger() *sharedLedger {
	return &sharedLedger{keys: make(map[DedupKey]bool)}
}

func (l *sharedLedger) HasNotified(_ context.Context, key DedupKey) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.keys[key], nil
}

func (l *sharedLedger) MarkNotified(_ context.Context, key DedupKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.marks++
	l.keys[key] = true
	return nil
}

func (l *sharedLedger) Claim(_ context.Context, key DedupKey) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.keys[key] {
		return false, nil
	}
	l.keys[key] = true
	return true, nil
}

func (l *sharedLedger) Release(_ context.Context, key DedupKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.keys, key)
	l.released = append(l.released, key)
	return nil
}

func TestProducer_SharedLedgerPublishesOnceAcrossProducers(t *testing.T) {
	ledger := newSharedLedger()
	pubA, pubB := &fakePublisher{}, &fakePublisher{}
	a := newTestProducer(pubA, ledger, time.Second)
	b := newTestProducer(pubB, ledger, time.Second)

	var wg sync.WaitGroup
	outcomes := make([]PublishOutcome, 2)
	for i, p := range []*Producer{a, b} {
		i, p := i, p
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = p.NotifyLike(context.Background(), likeEvent())
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, []PublishOutcome{Published, SkippedDuplicate}, outcomes)
	assert.Len(t, append(pubA.published(t), pubB.published(t)...), 1)
	assert.Zero(t, ledger.marks, "the claim is the record")
}

func TestProducer_SharedLedgerReleasesClaimOnPublishFailure(t *testing.T) {
	ledger := newSharedLedger()
	pub := &fakePublisher{err: errors.New("connection refused")}
	p := newTestProducer(pub, ledger, time.Second)
	key := DedupKey{PostID: "p1", ActorUserID: "fan"}

	assert.Equal(t, PublishDropped, p.NotifyLike(context.Background(), likeEvent()))
	assert.Equal(t, []DedupKey{key}, ledger.released)

	notified, err := ledger.HasNotified(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, notified)

	pub.mu.Lock()
	pub.err = nil
	pub.mu.Unlock()
	assert.Equal(t, Published, p.NotifyLike(context.Background(), likeEvent()))
}

func TestProducer_SharedLedgerReleasesClaimOnTimeout(t *testing.T) {
	ledger := newSharedLedger()
	pub := &fakePublisher{block: true, released: make(chan struct{})}
	p := newTestProducer(pub, ledger, 30*time.Millisecond)

	assert.Equal(t, PublishDropped, p.NotifyLike(context.Background(), likeEvent()))
	assert.Len(t, ledger.released, 1)
}
