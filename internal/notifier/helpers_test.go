package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/anonto42/instaverse/backend/internal/models"
	"github.com/anonto42/instaverse/backend/pkg/logger"
	"github.com/stretchr/testify/require"
)

var errWriteRejected = errors.New("write rejected")

// fakeConn records written frames. With failAt >= 0 every write from the
// failAt-th one on is rejected; the first failFirst write attempts are
// rejected as well.
type fakeConn struct {
	mu        sync.Mutex
	frames    [][]byte
	failAt    int
	failFirst int
	attempts  int
}

func newFakeConn() *fakeConn {
	return &fakeConn{failAt: -1}
}

func (f *fakeConn) Write(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.failFirst {
		return errWriteRejected
	}
	if f.failAt >= 0 && len(f.frames) >= f.failAt {
		return errWriteRejected
	}
	f.frames = append(f.frames, append([]byte(nil), payload...))
	return nil
}

func (f *fakeConn) received(t *testing.T) []models.LikeNotification {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.LikeNotification, 0, len(f.frames))
	for _, frame := range f.frames {
		var n models.LikeNotification
		require.NoError(t, json.Unmarshal(frame, &n))
		out = append(out, n)
	}
	return out
}

func (f *fakeConn) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func likeFor(recipient, postID string) models.LikeNotification {
	return models.LikeNotification{
		ID:              postID + "-" + recipient,
		Type:            models.NotificationTypeLike,
		PostID:          postID,
		RecipientUserID: recipient,
		ActorUserID:     "actor-" + postID,
		ActorUsername:   "alice",
		PostTitle:       "sunset",
	}
}

func postIDs(ns []models.LikeNotification) []string {
	ids := make([]string, len(ns))
	for i, n := range ns {
		ids[i] = n.PostID
	}
	return ids
}

func newTestHub() (*Registry, *Dispatcher, *OfflineBuffer) {
	log := logger.Discard()
	buffer := NewOfflineBuffer(nil)
	registry := NewRegistry(buffer, log, nil, 0)
	return registry, NewDispatcher(registry, log, nil), buffer
}
