package core

import (
	"sync"
	"sync/atomic"
)

// HolderMutex is a mutex that remembers who is inside the critical section.
// Use it where the holder label matters for diagnostics; a plain sync.Mutex
// is enough otherwise.
type HolderMutex struct {
	mu        sync.Mutex
	holder    atomic.Value // string
	contended atomic.Int64
}

// Do runs f with the lock held and holder recorded. The holder is cleared on
// every exit path, including a panic in f, before the lock is released.
func (m *HolderMutex) Do(holder string, f func() error) error {
	_, err := WithLock(m, holder, func() (struct{}, error) {
		return struct{}{}, f()
	})
	return err
}

// TryDo runs f only if the lock is free. It reports whether f ran.
func (m *HolderMutex) TryDo(holder string, f func() error) (bool, error) {
	if !m.mu.TryLock() {
		return false, nil
	}
	defer m.release()
	m.holder.Store(labelOrAnonymous(holder))
	return true, f()
}

// WithLock runs f under m and returns its result.
func WithLock[R any](m *HolderMutex, holder string, f func() (R, error)) (R, error) {
	m.acquire()
	defer m.release()
	m.holder.Store(labelOrAnonymous(holder))
	return f()
}

// Holder returns the label of the current holder, or "" when unlocked.
func (m *HolderMutex) Holder() string {
	if v, ok := m.holder.Load().(string); ok {
		return v
	}
	return ""
}

// Contended returns how many acquisitions had to wait for another holder.
func (m *HolderMutex) Contended() int64 {
	return m.contended.Load()
}

func (m *HolderMutex) acquire() {
	if m.mu.TryLock() {
		return
	}
	m.contended.Add(1)
	m.mu.Lock()
}

func (m *HolderMutex) release() {
	m.holder.Store("")
	m.mu.Unlock()
}

func labelOrAnonymous(label string) string {
	if label == "" {
		return anonymousOwner
	}
	return label
}
