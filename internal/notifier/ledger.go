package notifier

import (
	"context"
	"fmt"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// DedupKey identifies a (post, liker) pair that has already produced a
// notification.
type DedupKey struct {
	PostID      string
	ActorUserID string
}

func (k DedupKey) String() string {
	return k.PostID + ":" + k.ActorUserID
}

// Ledger records which (post, liker) pairs have been notified. Entries are
// never removed.
type Ledger interface {
	HasNotified(ctx context.Context, key DedupKey) (bool, error)
	MarkNotified(ctx context.Context, key DedupKey) error
}

// Claimer is implemented by ledgers shared between processes. Claim marks key
// only if it is absent and reports whether this caller got it; Release undoes
// a claim whose notification was never published.
type Claimer interface {
	Claim(ctx context.Context, key DedupKey) (bool, error)
	Release(ctx context.Context, key DedupKey) error
}

// MemoryLedger is a process-local Ledger. Its contents die with the process.
type MemoryLedger struct {
	entries *cache.Cache
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	// no expiration and no janitor: the set only grows
	return &MemoryLedger{entries: cache.New(cache.NoExpiration, 0)}
}

// HasNotified reports whether key was marked.
func (l *MemoryLedger) HasNotified(_ context.Context, key DedupKey) (bool, error) {
	_, found := l.entries.Get(key.String())
	return found, nil
}

// MarkNotified records key.
func (l *MemoryLedger) MarkNotified(_ context.Context, key DedupKey) error {
	l.entries.Set(key.String(), struct{}{}, cache.NoExpiration)
	return nil
}

// Len returns the number of recorded pairs.
func (l *MemoryLedger) Len() int {
	return l.entries.ItemCount()
}

const redisLedgerPrefix = "instaverse:notified:like:"

// RedisLedger keeps the ledger in Redis so several API processes share it.
type RedisLedger struct {
	client *redis.Client
}

// NewRedisLedger wraps an existing client.
func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

// HasNotified reports whether key exists in Redis.
func (l *RedisLedger) HasNotified(ctx context.Context, key DedupKey) (bool, error) {
	n, err := l.client.Exists(ctx, redisLedgerPrefix+key.String()).Result()
	if err != nil {
		return false, fmt.Errorf("redis ledger lookup: %w", err)
	}
	return n == 1, nil
}

// MarkNotified records key. Recording an existing key is not an error.
func (l *RedisLedger) MarkNotified(ctx context.Context, key DedupKey) error {
	if _, err := l.Claim(ctx, key); err != nil {
		return err
	}
	return nil
}

// Claim records key with SETNX and reports whether it was absent.
func (l *RedisLedger) Claim(ctx context.Context, key DedupKey) (bool, error) {
	// zero expiration keeps the key forever, same as the memory ledger
	ok, err := l.client.SetNX(ctx, redisLedgerPrefix+key.String(), 1, 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis ledger claim: %w", err)
	}
	return ok, nil
}

// Release deletes key.
func (l *RedisLedger) Release(ctx context.Context, key DedupKey) error {
	if err := l.client.Del(ctx, redisLedgerPrefix+key.String()).Err(); err != nil {
		return fmt.Errorf("redis ledger release: %w", err)
	}
	return nil
}

var (
	_ Ledger  = (*MemoryLedger)(nil)
	_ Ledger  = (*RedisLedger)(nil)
	_ Claimer = (*RedisLedger)(nil)
)
