package services

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// SessionIndex tracks the token hashes of active sessions so a new token is
// known to be unique before the session row is committed.
type SessionIndex interface {
	// Reserve claims hash for tableID. It returns false when the hash is
	// already held by a live entry.
	Reserve(ctx context.Context, hash string, tableID uint, ttl time.Duration) (bool, error)
	// Refresh writes hash unconditionally with a new ttl.
	Refresh(ctx context.Context, hash string, tableID uint, ttl time.Duration) error
	Release(ctx context.Context, hash string) error
	Lookup(ctx context.Context, hash string) (uint, bool, error)
}

type indexEntry struct {
	tableID   uint
	expiresAt time.Time
}

// MemorySessionIndex keeps the index in process memory. It is rebuilt by
// SessionManager.Warm after a restart.
type MemorySessionIndex struct {
	mu      sync.Mutex
	entries map[string]indexEntry
	now     func() time.Time
}

func NewMemorySessionIndex() *MemorySessionIndex {
	return &MemorySessionIndex{
		entries: make(map[string]indexEntry),
		now:     time.Now,
	}
}

func (m *MemorySessionIndex) Reserve(_ context.Context, hash string, tableID uint, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[hash]; ok && m.now().Before(e.expiresAt) {
		return false, nil
	}
	m.entries[hash] = indexEntry{tableID: tableID, expiresAt: m.now().Add(ttl)}
	return true, nil
}

func (m *MemorySessionIndex) Refresh(_ context.Context, hash string, tableID uint, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[hash] = indexEntry{tableID: tableID, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemorySessionIndex) Release(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, hash)
	return nil
}

func (m *MemorySessionIndex) Lookup(_ context.Context, hash string) (uint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[hash]
	if !ok || !m.now().Before(e.expiresAt) {
		delete(m.entries, hash)
		return 0, false, nil
	}
	return e.tableID, true, nil
}

// RedisSessionIndex shares the index between replicas.
type RedisSessionIndex struct {
	client *redis.Client
	prefix string
}

func NewRedisSessionIndex(client *redis.Client, prefix string) *RedisSessionIndex {
	if prefix == "" {
		prefix = "floor:session:"
	}
	return &RedisSessionIndex{client: client, prefix: prefix}
}

func (r *RedisSessionIndex) key(hash string) string {
	return r.prefix + hash
}

func (r *RedisSessionIndex) Reserve(ctx context.Context, hash string, tableID uint, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(hash), tableID, ttl).Result()
	if err != nil {
		return false, &LifecycleError{Code: CodeBackendUnavailable, Message: "session index unavailable", Err: err}
	}
	return ok, nil
}

func (r *RedisSessionIndex) Refresh(ctx context.Context, hash string, tableID uint, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(hash), tableID, ttl).Err(); err != nil {
		return &LifecycleError{Code: CodeBackendUnavailable, Message: "session index unavailable", Err: err}
	}
	return nil
}

func (r *RedisSessionIndex) Release(ctx context.Context, hash string) error {
	if err := r.client.Del(ctx, r.key(hash)).Err(); err != nil {
		return &LifecycleError{Code: CodeBackendUnavailable, Message: "session index unavailable", Err: err}
	}
	return nil
}

func (r *RedisSessionIndex) Lookup(ctx context.Context, hash string) (uint, bool, error) {
	val, err := r.client.Get(ctx, r.key(hash)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &LifecycleError{Code: CodeBackendUnavailable, Message: "session index unavailable", Err: err}
	}
	id, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return uint(id), true, nil
}
