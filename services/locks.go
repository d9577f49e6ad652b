package services

import (
	"context"
	"sort"
	"sync"
	"time"
)

// LockManager serializes mutations per table inside one process. Waiting is
// bounded; a caller that cannot get every lock in time gets
// ErrConflictingOperation and holds nothing.
type LockManager struct {
	mu    sync.Mutex
	locks map[uint]*tableLock
	wait  time.Duration
}

type tableLock struct {
	ch   chan struct{}
	refs int
}

func NewLockManager(wait time.Duration) *LockManager {
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return &LockManager{
		locks: make(map[uint]*tableLock),
		wait:  wait,
	}
}

// Acquire locks ids in ascending order and returns a func releasing all of
// them. Duplicate ids are locked once.
func (m *LockManager) Acquire(ctx context.Context, ids ...uint) (func(), error) {
	ordered := uniqueSorted(ids)

	timer := time.NewTimer(m.wait)
	defer timer.Stop()

	held := make([]uint, 0, len(ordered))
	for _, id := range ordered {
		l := m.ref(id)
		select {
		case l.ch <- struct{}{}:
			held = append(held, id)
		case <-timer.C:
			m.unref(id)
			m.release(held)
			return nil, newError(CodeConflictingOperation, "table %d is busy, try again", id)
		case <-ctx.Done():
			m.unref(id)
			m.release(held)
			return nil, translate(ctx.Err(), "table")
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.release(held) })
	}, nil
}

// TryAcquire is Acquire without waiting: if any of ids is locked it
// returns ErrConflictingOperation and holds nothing.
func (m *LockManager) TryAcquire(ids ...uint) (func(), error) {
	ordered := uniqueSorted(ids)

	held := make([]uint, 0, len(ordered))
	for _, id := range ordered {
		l := m.ref(id)
		select {
		case l.ch <- struct{}{}:
			held = append(held, id)
		default:
			m.unref(id)
			m.release(held)
			return nil, newError(CodeConflictingOperation, "table %d is being changed by another request", id)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.release(held) })
	}, nil
}

// Held reports how many tables currently have a lock entry.
func (m *LockManager) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *LockManager) ref(id uint) *tableLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &tableLock{ch: make(chan struct{}, 1)}
		m.locks[id] = l
	}
	l.refs++
	return l
}

func (m *LockManager) unref(id uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.locks[id]
	l.refs--
	if l.refs == 0 {
		delete(m.locks, id)
	}
}

func (m *LockManager) release(ids []uint) {
	for i := len(ids) - 1; i >= 0; i-- {
		m.mu.Lock()
		l := m.locks[ids[i]]
		m.mu.Unlock()
		<-l.ch
		m.unref(ids[i])
	}
}

func uniqueSorted(ids []uint) []uint {
	out := make([]uint, 0, len(ids))
	seen := make(map[uint]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
